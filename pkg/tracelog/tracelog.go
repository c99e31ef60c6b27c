// Package tracelog implements the trace logger: a buffering process that
// drains request traces from a channel and flushes them to a pluggable
// sink on a count threshold or a control sentinel.
package tracelog

import (
	"time"

	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
)

// Sentinel is one of the four reserved control values on the trace
// channel; implementations must never confuse them with a valid trace.
type Sentinel int

const (
	// Start resumes accepting traces into the buffer.
	Start Sentinel = iota
	// Pause stops accepting traces and flushes immediately.
	Pause
	// Flush flushes unconditionally, regardless of running state.
	Flush
	// Poison flushes and exits the loop after a bounded drain window.
	Poison
)

// Message is one value accepted on the trace channel: either a trace or
// a control sentinel, never both.
type Message struct {
	Trace    *gtypes.RequestTrace
	Sentinel *Sentinel
}

// TraceMessage wraps a trace for the channel.
func TraceMessage(t gtypes.RequestTrace) Message { return Message{Trace: &t} }

// SentinelMessage wraps a control sentinel for the channel.
func SentinelMessage(s Sentinel) Message { return Message{Sentinel: &s} }

// Writer flushes a batch of traces to a sink. Writer errors are logged;
// the buffer is cleared regardless to avoid unbounded growth.
type Writer interface {
	Write(traces []gtypes.RequestTrace) error
}

// FlushInterval is the default buffer size that triggers an implicit
// flush.
const FlushInterval = 20

// drainTimeout is the window the logger waits for a final trace after
// POISON before giving up and flushing what it has.
const drainTimeout = 2 * time.Second

// Logger is the trace logger process. It owns its buffer exclusively;
// nothing outside this type ever reads or mutates it.
type Logger struct {
	writer        Writer
	flushInterval int
	running       bool
	buffer        []gtypes.RequestTrace
	workerID      string
}

// New constructs a logger over writer. running=false means traces are
// silently dropped until a Start sentinel arrives.
func New(writer Writer, workerID string, running bool) *Logger {
	interval := FlushInterval
	return &Logger{writer: writer, flushInterval: interval, running: running, workerID: workerID}
}

// Run consumes in until a Poison sentinel is processed or in is closed,
// then performs a final flush. It is meant to run on its own goroutine.
func (l *Logger) Run(in <-chan Message) {
	defer l.flush()

	for {
		msg, ok := <-in
		if !ok {
			return
		}
		if l.handle(msg) {
			l.drain(in)
			return
		}
	}
}

// drain gives the channel a bounded window to deliver anything already
// in flight when Poison was received before the logger exits.
func (l *Logger) drain(in <-chan Message) {
	timeout := time.NewTimer(drainTimeout)
	defer timeout.Stop()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			l.handle(msg)
		case <-timeout.C:
			return
		}
	}
}

// handle processes one message and returns true when it was a Poison
// sentinel; Run then drains the channel and exits.
func (l *Logger) handle(msg Message) bool {
	if msg.Sentinel != nil {
		switch *msg.Sentinel {
		case Start:
			l.running = true
		case Pause:
			l.running = false
			l.flush()
		case Flush:
			l.flush()
		case Poison:
			l.flush()
			return true
		}
		return false
	}

	if msg.Trace != nil && l.running {
		l.buffer = append(l.buffer, *msg.Trace)
		metrics.TracesEmittedTotal.WithLabelValues(msg.Trace.ClientId, msg.Trace.Service).Inc()
	}
	if len(l.buffer) >= l.flushInterval {
		l.flush()
	}
	return false
}

func (l *Logger) flush() {
	if len(l.buffer) == 0 {
		return
	}
	timer := metrics.NewTimer()
	if err := l.writer.Write(l.buffer); err != nil {
		log.Logger.Warn().Err(err).Str("worker_id", l.workerID).Msg("tracelog: writer error, dropping buffer")
	}
	timer.ObserveDuration(metrics.TraceFlushDuration)
	l.buffer = l.buffer[:0]
}
