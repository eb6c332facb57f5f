// Package scheduler runs the periodic credential refresh and authorization
// state cleanup sweeps, either in process or through a job queue.
package scheduler
