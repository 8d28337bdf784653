package scheduler

import (
	"context"
	"image"
	"time"

	"image-pipeline/internal/engine"
)

// Task is one resize job. The source buffer is moved into the pool at
// Submit: the caller must not read or write Src afterwards. A task settles
// exactly once, with a result, an error, or a timeout.
type Task struct {
	Src        *image.NRGBA
	DstW, DstH int
	Strategy   engine.Strategy

	// OnProgress, if set, receives percent updates. It is called from the
	// scheduler goroutine and must not block.
	OnProgress func(percent int)

	id      int64
	worker  int
	settled bool
	timer   *time.Timer
	done    chan result
}

type result struct {
	img *image.NRGBA
	err error
}

// ID returns the task id assigned at Submit, 0 before submission.
func (t *Task) ID() int64 {
	return t.id
}

// Wait blocks until the task settles or ctx expires. If ctx expires first
// the task is abandoned; its eventual settlement is discarded.
func (t *Task) Wait(ctx context.Context) (*image.NRGBA, error) {
	select {
	case r := <-t.done:
		return r.img, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
