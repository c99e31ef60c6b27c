package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edgerun/galileo-go/pkg/apps"
	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/generator"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
	"github.com/edgerun/galileo-go/pkg/router"
	"github.com/edgerun/galileo-go/pkg/tracelog"
	"github.com/edgerun/galileo-go/pkg/wire"
)

// traceBufferSize is not referenced by New: the trace channel is created
// by the caller, and its capacity (64 in the worker daemon) bounds how many
// traces can wait for the trace logger. When that channel is full, new
// traces are dropped rather than blocking the request loop.
const traceBufferSize = 256

// Client is one emulated client process: it samples requests from an
// app through a request generator, dispatches them through a router, and
// emits a trace per completed request.
type Client struct {
	desc   gtypes.ClientDescription
	app    apps.AppClient
	router router.Router
	bus    *eventbus.Bus

	gen   *generator.Generator[gtypes.ServiceRequest]
	out   chan generator.Output[gtypes.ServiceRequest]
	trace chan<- tracelog.Message

	requests atomic.Int64
	failed   atomic.Int64

	seq      atomic.Int64
	uuid     string
	cancelFn context.CancelFunc
}

// New constructs a client process for desc, backed by app and router,
// emitting traces onto trace and wired into bus for workload control and
// the info RPC.
func New(desc gtypes.ClientDescription, app apps.AppClient, rtr router.Router, bus *eventbus.Bus, trace chan<- tracelog.Message) *Client {
	c := &Client{
		desc:   desc,
		app:    app,
		router: rtr,
		bus:    bus,
		out:    make(chan generator.Output[gtypes.ServiceRequest], 1),
		trace:  trace,
		uuid:   uuid.NewString(),
	}
	c.gen = generator.New(c.nextRequest)
	return c
}

func (c *Client) nextRequest() gtypes.ServiceRequest {
	appReq, err := c.app.NextRequest()
	if err != nil {
		log.Logger.Warn().Err(err).Str("client_id", c.desc.ClientId).Msg("client: app NextRequest failed")
	}
	return gtypes.ServiceRequest{
		Service:   c.desc.Config.Service,
		Path:      appReq.Endpoint,
		Method:    appReq.Method,
		Kwargs:    appReq.Kwargs,
		Created:   time.Now(),
		ClientId:  c.desc.ClientId,
		RequestId: fmt.Sprintf("%s:%d", c.uuid, c.seq.Add(1)),
	}
}

// Run subscribes to this client's workload control topics and drives the
// request loop until ctx is cancelled. It blocks until the generator is
// closed.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFn = cancel

	c.bus.Subscribe(wire.TopicSetWorkloadCommand, c.onSetWorkload)
	c.bus.Subscribe(wire.TopicStopWorkloadCommand, c.onStopWorkload)
	c.bus.Expose(wire.ClientInfoRPC(c.desc.ClientId), c.onInfo)

	go c.gen.Run(c.out)

	for {
		select {
		case <-ctx.Done():
			c.gen.Close()
			return
		case output, ok := <-c.out:
			if !ok {
				return
			}
			if output.Done {
				c.bus.Publish(wire.TopicWorkloadDoneEvent, wire.WorkloadDoneEvent{ClientId: c.desc.ClientId})
				continue
			}
			c.dispatch(ctx, output.Value)
		}
	}
}

// Stop closes the generator and cancels the request loop.
func (c *Client) Stop() {
	if c.cancelFn != nil {
		c.cancelFn()
	}
}

func (c *Client) dispatch(ctx context.Context, req gtypes.ServiceRequest) {
	reqCtx, cancel := context.WithTimeout(ctx, router.DefaultTimeout*time.Duration(router.DefaultRetries))
	defer cancel()

	resp, err := c.router.Request(reqCtx, &req)
	done := time.Now()

	trace := gtypes.RequestTrace{
		RequestId: req.RequestId,
		ClientId:  req.ClientId,
		Service:   req.Service,
		Created:   req.Created,
		Sent:      req.Sent,
		Done:      done,
	}

	c.requests.Add(1)
	if err != nil {
		trace.Status = -1
		trace.Response = err.Error()
		c.failed.Add(1)
		metrics.RequestsFailedTotal.WithLabelValues(req.Service, "transport").Inc()
	} else {
		trace.Server = resp.Host
		trace.Status = resp.StatusCode
		trace.Response = resp.Body
		if resp.StatusCode < 0 || resp.StatusCode >= 300 {
			c.failed.Add(1)
			metrics.RequestsFailedTotal.WithLabelValues(req.Service, "status").Inc()
		}
	}

	select {
	case c.trace <- tracelog.TraceMessage(trace):
	default:
		metrics.TracesDroppedTotal.WithLabelValues(c.desc.WorkerId).Inc()
	}
}

func (c *Client) onSetWorkload(payload json.RawMessage) {
	var cmd wire.SetWorkloadCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return
	}
	if cmd.Spec.ClientId != c.desc.ClientId {
		return
	}
	if err := c.gen.SetWorkload(cmd.Spec); err != nil {
		log.Logger.Warn().Err(err).Str("client_id", c.desc.ClientId).Msg("client: invalid workload spec")
	}
}

func (c *Client) onStopWorkload(payload json.RawMessage) {
	var cmd wire.StopWorkloadCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return
	}
	if cmd.ClientId != c.desc.ClientId {
		return
	}
	c.gen.Pause()
}

func (c *Client) onInfo(json.RawMessage) (any, error) {
	return gtypes.ClientInfo{
		Description: c.desc,
		Requests:    c.requests.Load(),
		Failed:      c.failed.Load(),
	}, nil
}
