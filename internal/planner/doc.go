// Package planner computes target dimensions for fit-to-bounds downscaling.
// All functions are pure: same inputs, same outputs, no side effects.
package planner
