// Package worker implements the worker daemon: the process that runs on
// each load-generation host, registers itself with the cluster
// controller, spawns and tears down emulated clients on command, and
// hosts the per-host trace logger those clients feed. It owns nothing
// but goroutines: clients are in-process workers, not containers or
// VMs, and a clean stop is simply waiting for their goroutines to
// return.
package worker
