// Package generator implements the request generator: a lazy,
// restartable interarrival sequence driving a client's request loop,
// built as an explicit iterator with pause/close controls and a
// condition variable for the suspension point between samples.
package generator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/edgerun/galileo-go/pkg/gtypes"
)

// Output is one value produced by the run loop: either a request emitted
// by the factory, or the DONE sentinel marking the end of a finite
// workload.
type Output[T any] struct {
	Done  bool
	Value T
}

// Factory produces the next request a client should send.
type Factory[T any] func() T

type workload struct {
	sampler Sampler
	limit   *int // nil = infinite, 0 = immediately done
	emitted int
}

// Generator drives a factory's output according to the currently set
// workload. It is owned exclusively by the client process that
// constructs it.
type Generator[T any] struct {
	factory Factory[T]
	rand    *rand.Rand

	mu      sync.Mutex
	cond    *sync.Cond
	current *workload
	closed  bool
}

// New constructs a generator over factory. The generator starts paused:
// Run blocks until SetWorkload is called.
func New[T any](factory Factory[T]) *Generator[T] {
	g := &Generator[T]{
		factory: factory,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// SetWorkload installs a new interarrival process, replacing any prior
// one, and wakes the run loop if it was blocked waiting for one.
func (g *Generator[T]) SetWorkload(spec gtypes.WorkloadSpec) error {
	sampler, err := NewSampler(spec.Distribution, spec.Parameters)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.current = &workload{sampler: sampler, limit: spec.Num}
	g.mu.Unlock()
	g.cond.Broadcast()
	return nil
}

// Pause clears the current workload; the run loop blocks again on its
// next iteration until a new workload is set.
func (g *Generator[T]) Pause() {
	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
}

// Close marks the generator closed; any blocked Run call returns.
func (g *Generator[T]) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// nextInterarrival blocks until a workload is set, the generator is
// closed, or the current workload yields its next interarrival time. It
// returns (value, endOfWorkload, closed).
func (g *Generator[T]) nextInterarrival() (float64, bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.current == nil && !g.closed {
		g.cond.Wait()
	}
	if g.closed {
		return 0, false, true
	}

	w := g.current
	if w.limit != nil && w.emitted >= *w.limit {
		g.current = nil
		return 0, true, false
	}

	a := w.sampler(g.rand)
	w.emitted++
	return a, false, false
}

// Run emits factory output on out until the generator is closed. It
// blocks on the condition variable between workloads and sleeps between
// interarrivals within one. The DONE sentinel is emitted exactly once per
// completed finite workload.
func (g *Generator[T]) Run(out chan<- Output[T]) {
	for {
		a, done, closed := g.nextInterarrival()
		if closed {
			return
		}
		if done {
			out <- Output[T]{Done: true}
			continue
		}
		if a > 0 {
			time.Sleep(time.Duration(a * float64(time.Second)))
		}
		out <- Output[T]{Value: g.factory()}
	}
}
