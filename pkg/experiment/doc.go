// Package experiment implements the experiment daemon: a queue consumer
// that materializes a queued experiment configuration into a per-service
// tick schedule, drives client groups through it rate by rate, and
// records the terminal status. A single goroutine alternates ticker wait
// and one work cycle, applied to workload rate changes.
package experiment
