// Package client implements the emulated client process: a goroutine
// pair owned by a worker daemon that samples an app's requests according
// to a generator-driven interarrival schedule, dispatches each through a
// router, and records the outcome as a trace. A client here never talks
// to a remote control plane directly; the worker daemon owns that.
package client
