package substrate

import "errors"

var (
	// ErrIndexOutOfRange is returned by LRemoveAt when the requested index
	// no longer exists in the list.
	ErrIndexOutOfRange = errors.New("substrate: index out of range")
	// ErrCancelConflict is returned by LRemoveAt after exhausting its
	// transactional retry budget against concurrent writers.
	ErrCancelConflict = errors.New("substrate: cancel could not be committed")
	// ErrEmptyPop is an internal sentinel for a malformed BLPOP reply.
	ErrEmptyPop = errors.New("substrate: empty pop result")
)
