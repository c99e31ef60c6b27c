package cluster

import "errors"

var (
	// ErrInvalidPattern is returned when ListWorkers is given a pattern
	// that does not compile as a regular expression.
	ErrInvalidPattern = errors.New("cluster: invalid worker pattern")

	// ErrNoCandidate is returned by CreateClients when no registered
	// worker matches the requested labels.
	ErrNoCandidate = errors.New("cluster: no candidate worker for placement")
)
