package tracelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-go/pkg/gtypes"
)

type recordingWriter struct {
	batches [][]gtypes.RequestTrace
}

func (w *recordingWriter) Write(traces []gtypes.RequestTrace) error {
	cp := append([]gtypes.RequestTrace(nil), traces...)
	w.batches = append(w.batches, cp)
	return nil
}

func (w *recordingWriter) total() int {
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func sendTraces(in chan<- Message, n int) {
	for i := 0; i < n; i++ {
		in <- TraceMessage(gtypes.RequestTrace{RequestId: "r"})
	}
}

func TestLogger_DropsTracesWhilePaused(t *testing.T) {
	writer := &recordingWriter{}
	l := New(writer, "w1", false)
	in := make(chan Message, 32)

	done := make(chan struct{})
	go func() { l.Run(in); close(done) }()

	pause := Pause
	in <- SentinelMessage(pause)
	sendTraces(in, 10)
	flush := Flush
	in <- SentinelMessage(flush)

	time.Sleep(50 * time.Millisecond)
	poison := Poison
	in <- SentinelMessage(poison)
	<-done

	assert.Equal(t, 0, writer.total())
}

func TestLogger_BuffersWhileRunningAndFlushesOnPoison(t *testing.T) {
	writer := &recordingWriter{}
	l := New(writer, "w1", false)
	in := make(chan Message, 32)

	done := make(chan struct{})
	go func() { l.Run(in); close(done) }()

	start := Start
	in <- SentinelMessage(start)
	sendTraces(in, 10)

	time.Sleep(50 * time.Millisecond)
	poison := Poison
	in <- SentinelMessage(poison)
	<-done

	require.Equal(t, 10, writer.total())
}

func TestLogger_ImplicitFlushAtThreshold(t *testing.T) {
	writer := &recordingWriter{}
	l := New(writer, "w1", true)
	in := make(chan Message, FlushInterval*2)

	done := make(chan struct{})
	go func() { l.Run(in); close(done) }()

	sendTraces(in, FlushInterval)
	time.Sleep(50 * time.Millisecond)

	poison := Poison
	in <- SentinelMessage(poison)
	<-done

	require.Len(t, writer.batches, 1)
	assert.Equal(t, FlushInterval, len(writer.batches[0]))
}

func TestLogger_PoisonFlushesRemainder(t *testing.T) {
	writer := &recordingWriter{}
	l := New(writer, "w1", true)
	in := make(chan Message, 8)

	done := make(chan struct{})
	go func() { l.Run(in); close(done) }()

	sendTraces(in, 3)
	poison := Poison
	in <- SentinelMessage(poison)
	<-done

	assert.Equal(t, 3, writer.total())
}
