// Package eventbus implements the distributed event bus components talk
// over: publish/subscribe on named topics, named request/response RPC
// stubs, and durable queues. Every payload on the wire is a JSON envelope
// around one of the tagged Command/Event/Reply types defined by the
// packages that use this bus.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/substrate"
)

// Handler processes one message delivered on a subscribed topic.
type Handler func(payload json.RawMessage)

// RPCHandler answers a request/response call and returns the reply payload.
type RPCHandler func(payload json.RawMessage) (any, error)

// StubOptions configures a request/response stub.
type StubOptions struct {
	Timeout time.Duration
	// Multi, when true, collects every responder's reply received within
	// Timeout instead of returning on the first one.
	Multi bool
}

type envelope struct {
	CorrelationId string          `json:"correlation_id"`
	ReplyTo       string          `json:"reply_to"`
	Payload       json.RawMessage `json:"payload"`
}

// Bus is the distributed, Redis-backed event bus. Subscribers receive
// messages in publication order per topic; there is no ordering guarantee
// across topics.
type Bus struct {
	sub *substrate.Substrate

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
	wg     sync.WaitGroup

	ctx       context.Context
	ctxCancel context.CancelFunc
}

// Init constructs a Bus over the given substrate; the substrate
// connection itself is already established by the caller.
func Init(sub *substrate.Substrate) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		sub:       sub,
		cancel:    make(map[string]context.CancelFunc),
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

// Shutdown stops every subscription and stub goroutine owned by this bus.
func (b *Bus) Shutdown() {
	b.ctxCancel()
	b.mu.Lock()
	for _, c := range b.cancel {
		c()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Publish serializes message and publishes it on topic.
func (b *Bus) Publish(topic string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("eventbus: marshal publish payload: %w", err)
	}
	return b.sub.Publish(b.ctx, topic, string(payload))
}

// Subscribe installs handler on topic. Subscriptions are dispatched on a
// dedicated goroutine per topic reader; handlers must not block on network
// I/O without their own timeout, since a slow handler backs up that
// topic's delivery only (other topics are unaffected).
func (b *Bus) Subscribe(topic string, handler Handler) {
	ctx, cancel := context.WithCancel(b.ctx)
	b.mu.Lock()
	b.cancel[subKey(topic)] = cancel
	b.mu.Unlock()

	ps := b.sub.Subscribe(ctx, topic)
	ch := ps.Channel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ps.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(json.RawMessage(msg.Payload))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Expose registers an RPC handler under name. Callers reach it through
// Stub(name, ...); the reply is delivered on the envelope's ReplyTo topic.
func (b *Bus) Expose(name string, handler RPCHandler) {
	b.Subscribe(requestTopic(name), func(payload json.RawMessage) {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Logger.Warn().Err(err).Str("endpoint", name).Msg("eventbus: malformed rpc envelope")
			return
		}
		reply, err := handler(env.Payload)
		if err != nil {
			log.Logger.Warn().Err(err).Str("endpoint", name).Msg("eventbus: rpc handler error")
			return
		}
		replyPayload, err := json.Marshal(reply)
		if err != nil {
			log.Logger.Warn().Err(err).Str("endpoint", name).Msg("eventbus: marshal rpc reply")
			return
		}
		if err := b.sub.Publish(b.ctx, env.ReplyTo, string(replyPayload)); err != nil {
			log.Logger.Warn().Err(err).Str("endpoint", name).Msg("eventbus: publish rpc reply")
		}
	})
}

// Stub returns a callable that invokes the named RPC endpoint. With
// Multi=false it returns the first reply received within opts.Timeout, or
// ErrTimeout. With Multi=true it collects every reply received within the
// timeout window and returns them once the window elapses; it never
// returns more than one reply per live responder per call.
func (b *Bus) Stub(name string, opts StubOptions) func(payload any) ([]json.RawMessage, error) {
	return func(payload any) ([]json.RawMessage, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("eventbus: marshal stub payload: %w", err)
		}
		replyTopic := fmt.Sprintf("rpc:reply:%s:%s", name, uuid.NewString())

		ctx, cancel := context.WithTimeout(b.ctx, opts.Timeout)
		defer cancel()

		ps := b.sub.Subscribe(ctx, replyTopic)
		defer ps.Close()
		ch := ps.Channel()

		env := envelope{CorrelationId: uuid.NewString(), ReplyTo: replyTopic, Payload: body}
		envBody, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("eventbus: marshal rpc envelope: %w", err)
		}
		if err := b.sub.Publish(ctx, requestTopic(name), string(envBody)); err != nil {
			return nil, fmt.Errorf("eventbus: publish rpc request: %w", err)
		}

		var replies []json.RawMessage
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return replies, nil
				}
				replies = append(replies, json.RawMessage(msg.Payload))
				if !opts.Multi {
					return replies, nil
				}
			case <-ctx.Done():
				if !opts.Multi && len(replies) == 0 {
					return nil, ErrTimeout
				}
				return replies, nil
			}
		}
	}
}

// Queue returns a handle to a durable, substrate-backed FIFO list.
func (b *Bus) Queue(name string) *Queue {
	return &Queue{sub: b.sub, ctx: b.ctx, key: "queue:" + name}
}

func requestTopic(name string) string {
	return "rpc:request:" + name
}

func subKey(topic string) string {
	return "sub:" + topic + ":" + uuid.NewString()
}
