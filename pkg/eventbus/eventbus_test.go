package eventbus_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/substrate"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	sub, err := substrate.New(&substrate.Options{Host: mr.Host(), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	bus := eventbus.Init(sub)
	t.Cleanup(bus.Shutdown)
	return bus
}

func TestBus_PublishSubscribe_RoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan string, 1)
	bus.Subscribe("topic.events", func(payload json.RawMessage) {
		var msg string
		require.NoError(t, json.Unmarshal(payload, &msg))
		received <- msg
	})

	// give the subscription goroutine time to install before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish("topic.events", "hello"))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}
}

func TestBus_ExposeStub_SingleReply(t *testing.T) {
	bus := newTestBus(t)

	bus.Expose("echo", func(payload json.RawMessage) (any, error) {
		var req string
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return req + "-reply", nil
	})
	time.Sleep(50 * time.Millisecond)

	call := bus.Stub("echo", eventbus.StubOptions{Timeout: 2 * time.Second})
	replies, err := call("ping")
	require.NoError(t, err)
	require.Len(t, replies, 1)

	var got string
	require.NoError(t, json.Unmarshal(replies[0], &got))
	assert.Equal(t, "ping-reply", got)
}

func TestBus_Stub_TimeoutWithNoResponder(t *testing.T) {
	bus := newTestBus(t)

	call := bus.Stub("nobody-home", eventbus.StubOptions{Timeout: 100 * time.Millisecond})
	_, err := call("ping")
	assert.ErrorIs(t, err, eventbus.ErrTimeout)
}

func TestBus_Stub_MultiCollectsEveryResponder(t *testing.T) {
	bus := newTestBus(t)

	for _, id := range []string{"a", "b", "c"} {
		workerID := id
		bus.Expose("ping-all", func(payload json.RawMessage) (any, error) {
			return workerID, nil
		})
	}
	time.Sleep(50 * time.Millisecond)

	call := bus.Stub("ping-all", eventbus.StubOptions{Timeout: 300 * time.Millisecond, Multi: true})
	replies, err := call(nil)
	require.NoError(t, err)
	assert.Len(t, replies, 3)

	seen := make(map[string]bool)
	for _, r := range replies {
		var id string
		require.NoError(t, json.Unmarshal(r, &id))
		seen[id] = true
	}
	assert.True(t, seen["a"] && seen["b"] && seen["c"])
}

func TestQueue_PutGet_FIFO(t *testing.T) {
	bus := newTestBus(t)
	queue := bus.Queue("work")

	require.NoError(t, queue.Put("first"))
	require.NoError(t, queue.Put("second"))

	size, err := queue.QSize()
	require.NoError(t, err)
	assert.EqualValues(t, 2, size)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	item, err := queue.Get(ctx)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(item, &got))
	assert.Equal(t, "first", got)

	item, err = queue.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(item, &got))
	assert.Equal(t, "second", got)
}

func TestQueue_Get_ShutdownUnblocks(t *testing.T) {
	bus := newTestBus(t)
	queue := bus.Queue("drain")

	errCh := make(chan error, 1)
	go func() {
		_, err := queue.Get(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	bus.Shutdown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, eventbus.ErrQueueShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock after Shutdown")
	}
}

func TestQueue_RangeAndRemove(t *testing.T) {
	bus := newTestBus(t)
	queue := bus.Queue("poison")

	require.NoError(t, queue.Put("alpha"))
	require.NoError(t, queue.Put("beta"))
	require.NoError(t, queue.Put("gamma"))

	items, err := queue.Range()
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.NoError(t, queue.Remove(1))

	items, err = queue.Range()
	require.NoError(t, err)
	require.Len(t, items, 2)

	var values []string
	for _, it := range items {
		var v string
		require.NoError(t, json.Unmarshal(it, &v))
		values = append(values, v)
	}
	assert.NotContains(t, values, "beta")
}
