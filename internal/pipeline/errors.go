package pipeline

import "fmt"

// ValidationError reports input that fails the pre-flight checks: an
// oversized file, an oversized resolution, or an undecodable source.
// Fatal and surfaced immediately; nothing has been allocated yet.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ResourceError reports an allocation-class failure: native module memory
// growth refused, or the memory monitor shutting down mid-wait. Recovered
// internally by falling back to a software engine where possible.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource failure in %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// WorkerFault reports a crash, timeout, or lost worker. Recovered by
// running the task on the caller's goroutine; the pool keeps serving
// subsequent tasks.
type WorkerFault struct {
	Err error
}

func (e *WorkerFault) Error() string {
	return fmt.Sprintf("worker fault: %v", e.Err)
}

func (e *WorkerFault) Unwrap() error { return e.Err }

// EncodeError reports a codec refusing to produce output. Fatal for the
// task; there is no further fallback once encoding itself fails.
type EncodeError struct {
	Format string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s encode failed: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ErrBusy is returned when Process is called while another operation is
// already in flight on the same Pipeline.
var ErrBusy = fmt.Errorf("pipeline busy: an operation is already in flight")
