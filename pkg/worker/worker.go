package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edgerun/galileo-go/pkg/apps"
	galileoclient "github.com/edgerun/galileo-go/pkg/client"
	"github.com/edgerun/galileo-go/pkg/cluster"
	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
	"github.com/edgerun/galileo-go/pkg/router"
	"github.com/edgerun/galileo-go/pkg/tracelog"
	"github.com/edgerun/galileo-go/pkg/wire"
)

// State is the worker daemon's lifecycle stage.
type State string

const (
	StateStarting   State = "STARTING"
	StateRegistered State = "REGISTERED"
	StateRunning    State = "RUNNING"
	StateDraining   State = "DRAINING"
	StateStopped    State = "STOPPED"
)

const closeClientTimeout = 5 * time.Second

// RouterFactory builds the router a newly created client dispatches
// through. Workers are agnostic to balancing strategy; the entrypoint
// wires the concrete choice (static/host/service, which balancer) in.
type RouterFactory func(cfg gtypes.ClientConfig) router.Router

// Config holds worker daemon configuration.
type Config struct {
	WorkerId   gtypes.WorkerId
	Labels     map[string]string
	TraceDir   string
	NewRouter  RouterFactory
	AppLoader  apps.Loader
}

// Worker is the per-host daemon: it registers with the cluster
// controller, spawns and tears down emulated clients on command, and
// owns the trace logger those clients publish through.
type Worker struct {
	cfg        Config
	bus        *eventbus.Bus
	controller *cluster.Controller

	traceCh chan tracelog.Message

	mu      sync.Mutex
	state   State
	clients map[gtypes.ClientId]*workerClient
	counter map[string]int // per-service sequence counter

	stopCh chan struct{}
}

type workerClient struct {
	desc   gtypes.ClientDescription
	client *galileoclient.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a worker daemon. writer backs the trace logger (a
// tracelog.FileWriter rooted at cfg.TraceDir is the common case).
func New(cfg Config, bus *eventbus.Bus, controller *cluster.Controller, writer tracelog.Writer) *Worker {
	w := &Worker{
		cfg:        cfg,
		bus:        bus,
		controller: controller,
		traceCh:    make(chan tracelog.Message, 64),
		state:      StateStarting,
		clients:    make(map[gtypes.ClientId]*workerClient),
		counter:    make(map[string]int),
		stopCh:     make(chan struct{}),
	}
	logger := tracelog.New(writer, cfg.WorkerId, false)
	go logger.Run(w.traceCh)
	return w
}

// Start registers the worker, exposes its RPC endpoints, and subscribes
// to the broadcast commands every worker daemon answers.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.controller.RegisterWorker(ctx, w.cfg.WorkerId, w.cfg.Labels); err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}
	w.setState(StateRegistered)

	w.bus.Expose(wire.RPCWorkerPing, w.onPing)
	w.bus.Expose(wire.CreateClientRPC(w.cfg.WorkerId), w.onCreateClient)

	w.bus.Subscribe(wire.TopicRegisterWorkerCommand, w.onDiscover(ctx))
	w.bus.Subscribe(wire.TopicStartTracingCommand, w.onStartTracing)
	w.bus.Subscribe(wire.TopicPauseTracingCommand, w.onPauseTracing)
	w.bus.Subscribe(wire.TopicCloseClientCommand, w.onCloseClient(ctx))

	if err := w.bus.Publish(wire.TopicRegisterWorkerEvent, wire.RegisterWorkerEvent{WorkerId: w.cfg.WorkerId, Labels: w.cfg.Labels}); err != nil {
		return err
	}
	w.setState(StateRunning)
	log.WithWorkerID(w.cfg.WorkerId).Info().Msg("worker: started")
	return nil
}

// Stop terminates every running client, drains the trace logger, and
// unregisters the worker from the cluster.
func (w *Worker) Stop(ctx context.Context) {
	w.setState(StateDraining)

	w.mu.Lock()
	clients := make([]*workerClient, 0, len(w.clients))
	for _, wc := range w.clients {
		clients = append(clients, wc)
	}
	w.mu.Unlock()

	for _, wc := range clients {
		w.closeClient(ctx, wc)
	}

	poison := tracelog.Poison
	w.traceCh <- tracelog.SentinelMessage(poison)

	if err := w.controller.UnregisterWorker(ctx, w.cfg.WorkerId); err != nil {
		log.WithWorkerID(w.cfg.WorkerId).Warn().Err(err).Msg("worker: unregister failed")
	}
	w.bus.Publish(wire.TopicUnregisterWorkerEvent, wire.UnregisterWorkerEvent{WorkerId: w.cfg.WorkerId})

	w.setState(StateStopped)
	close(w.stopCh)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// State returns the worker's current lifecycle stage.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) onPing(json.RawMessage) (any, error) {
	return w.cfg.WorkerId, nil
}

func (w *Worker) onDiscover(ctx context.Context) eventbus.Handler {
	return func(json.RawMessage) {
		if err := w.controller.RegisterWorker(ctx, w.cfg.WorkerId, w.cfg.Labels); err != nil {
			log.WithWorkerID(w.cfg.WorkerId).Warn().Err(err).Msg("worker: re-register on discover failed")
			return
		}
		w.bus.Publish(wire.TopicRegisterWorkerEvent, wire.RegisterWorkerEvent{WorkerId: w.cfg.WorkerId, Labels: w.cfg.Labels})
	}
}

func (w *Worker) onStartTracing(json.RawMessage) {
	start := tracelog.Start
	w.traceCh <- tracelog.SentinelMessage(start)
}

func (w *Worker) onPauseTracing(json.RawMessage) {
	pause := tracelog.Pause
	w.traceCh <- tracelog.SentinelMessage(pause)
}

// onCreateClient spawns cmd.Num clients for cmd.Config and returns their
// descriptions.
func (w *Worker) onCreateClient(payload json.RawMessage) (any, error) {
	var cmd wire.CreateClientCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, err
	}

	ctx := context.Background()
	descriptions := make([]gtypes.ClientDescription, 0, cmd.Num)
	for i := 0; i < cmd.Num; i++ {
		desc, err := w.spawnClient(ctx, cmd.Config)
		if err != nil {
			return nil, err
		}
		descriptions = append(descriptions, desc)
	}
	return descriptions, nil
}

func (w *Worker) spawnClient(ctx context.Context, cfg gtypes.ClientConfig) (gtypes.ClientDescription, error) {
	w.mu.Lock()
	seq := w.counter[cfg.Service]
	w.counter[cfg.Service] = seq + 1
	w.mu.Unlock()

	clientID := fmt.Sprintf("%s:%s:%d", w.cfg.WorkerId, cfg.Service, seq)
	desc := gtypes.ClientDescription{ClientId: clientID, WorkerId: w.cfg.WorkerId, Config: cfg}

	appName := cfg.App
	if appName == "" {
		appName = "default"
	}
	app, err := w.cfg.AppLoader.Load(appName, cfg.Parameters)
	if err != nil {
		return gtypes.ClientDescription{}, fmt.Errorf("worker: load app %q: %w", appName, err)
	}

	rtr := w.cfg.NewRouter(cfg)
	c := galileoclient.New(desc, app, rtr, w.bus, w.traceCh)

	if err := w.controller.RegisterClient(ctx, desc); err != nil {
		return gtypes.ClientDescription{}, err
	}

	clientCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(clientCtx)
	}()

	w.mu.Lock()
	w.clients[clientID] = &workerClient{desc: desc, client: c, cancel: cancel, done: done}
	w.mu.Unlock()

	w.bus.Publish(wire.TopicClientStartedEvent, wire.ClientStartedEvent{Description: desc})
	metrics.ClientsTotal.WithLabelValues("running").Inc()
	return desc, nil
}

func (w *Worker) onCloseClient(ctx context.Context) eventbus.Handler {
	return func(payload json.RawMessage) {
		var cmd wire.CloseClientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return
		}
		w.mu.Lock()
		wc, ok := w.clients[cmd.ClientId]
		w.mu.Unlock()
		if !ok {
			return
		}
		w.closeClient(ctx, wc)
	}
}

func (w *Worker) closeClient(ctx context.Context, wc *workerClient) {
	wc.client.Stop()
	wc.cancel()
	select {
	case <-wc.done:
	case <-time.After(closeClientTimeout):
		log.WithWorkerID(w.cfg.WorkerId).Warn().Str("client_id", wc.desc.ClientId).Msg("worker: client did not stop within timeout")
	}

	w.mu.Lock()
	delete(w.clients, wc.desc.ClientId)
	w.mu.Unlock()

	if err := w.controller.UnregisterClient(ctx, wc.desc.ClientId); err != nil {
		log.WithWorkerID(w.cfg.WorkerId).Warn().Err(err).Str("client_id", wc.desc.ClientId).Msg("worker: unregister client failed")
	}
	w.bus.Publish(wire.TopicClientStoppedEvent, wire.ClientStoppedEvent{ClientId: wc.desc.ClientId})
	metrics.ClientsTotal.WithLabelValues("running").Dec()
}
