/*
Package log provides structured logging for galileo using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Usage

Initializing the logger:

	import "github.com/edgerun/galileo-go/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("cluster controller started")
	log.Debug("polling worker registry")
	log.Warn("worker missed heartbeat")
	log.Error("failed to dispatch request")

Structured logging with context loggers:

	workerLog := log.WithWorkerID("worker-1")
	workerLog.Info().Msg("registered with cluster controller")

	clientLog := log.WithClientID("worker-1:checkout:0")
	clientLog.Error().Err(err).Msg("request dispatch failed")

	expLog := log.WithExperimentID("exp-42")
	expLog.Info().Int("tick", 3).Msg("workload tick applied")

# Design

A single package-level zerolog.Logger is initialized once via Init and
read from everywhere else in the process; the With* helpers derive a
child logger carrying one identifying field (worker, client, service, or
experiment id) so trace logger, client, worker, and experiment daemon
output can be correlated without threading a logger through every call.

# Best Practices

Do:
  - Use Info level in production, Debug only while developing
  - Use structured fields (.Str, .Int) instead of string concatenation
  - Log errors with .Err() so the error is rendered consistently

Don't:
  - Log request kwargs or other app-supplied payloads verbatim; they may
    carry data the target service considers sensitive
  - Log inside the generator's hot sampling loop
*/
package log
