package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgerun/galileo-go/pkg/substrate"
)

// getPollInterval bounds each BLPop attempt inside Get. A BLPop with an
// infinite (zero) timeout can't be interrupted by context cancellation
// once the read is in flight, so Get polls in short bounded waits instead
// and checks for cancellation between them.
const getPollInterval = 1 * time.Second

// ErrTimeout is returned by a non-multi Stub call that received no reply
// within its deadline.
var ErrTimeout = errors.New("eventbus: rpc call timed out")

// ErrQueueShutdown is raised to a blocked Get when Shutdown is called on
// the bus that owns this queue.
var ErrQueueShutdown = errors.New("eventbus: queue shut down while blocked on get")

// Queue is a durable FIFO list backed by the coordination substrate. Items
// are pushed onto the right and popped from the left, so Range/LSet index
// 0 is the oldest enqueued item, matching substrate.go's RPush/BLPop pair.
type Queue struct {
	sub *substrate.Substrate
	ctx context.Context
	key string
}

// Put enqueues message.
func (q *Queue) Put(message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return q.sub.RPush(q.ctx, q.key, string(body))
}

// Get blocks until an item is available or the bus context is cancelled,
// in which case it returns ErrQueueShutdown.
func (q *Queue) Get(ctx context.Context) (json.RawMessage, error) {
	for {
		if ctx.Err() != nil || q.ctx.Err() != nil {
			return nil, ErrQueueShutdown
		}
		val, err := q.sub.BLPop(ctx, q.key, getPollInterval)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil || q.ctx.Err() != nil {
				return nil, ErrQueueShutdown
			}
			return nil, err
		}
		return json.RawMessage(val), nil
	}
}

// QSize returns the number of items currently queued.
func (q *Queue) QSize() (int64, error) {
	return q.sub.LLen(q.ctx, q.key)
}

// Range returns every queued item without removing them, oldest first
// (index 0 is the next item Get returns, since Put pushes onto the right
// and Get pops from the left).
func (q *Queue) Range() ([]json.RawMessage, error) {
	items, err := q.sub.LRange(q.ctx, q.key)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = json.RawMessage(it)
	}
	return out, nil
}

// LSet overwrites the item at index.
func (q *Queue) LSet(index int64, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return q.sub.LSet(q.ctx, q.key, index, string(body))
}

// Remove transactionally removes the item at index: it performs a
// watch/read/multi/exec sequence against the substrate and retries on
// conflict up to 3 times before surfacing a cancel error.
func (q *Queue) Remove(index int64) error {
	const retries = 3
	err := q.sub.LRemoveAt(q.ctx, q.key, index, retries)
	if err != nil {
		if errors.Is(err, substrate.ErrCancelConflict) {
			return ErrCancel
		}
		return err
	}
	return nil
}

// ErrCancel surfaces substrate.ErrCancelConflict under the eventbus
// package's own error identity (the CancelError kind).
var ErrCancel = errors.New("eventbus: cancel could not be committed after retries")
