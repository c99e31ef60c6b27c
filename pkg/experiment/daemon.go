package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/edgerun/galileo-go/pkg/cluster"
	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
)

const queueName = "experiments"

// Daemon consumes queued experiments one at a time and drives each to
// completion: materialize defaults, run the tick schedule, and record a
// terminal status no matter how the run ends.
type Daemon struct {
	bus        *eventbus.Bus
	controller *cluster.Controller
	store      Store
	queue      *eventbus.Queue
	closed     chan struct{}
}

// New constructs an experiment daemon over bus/controller, persisting
// status transitions through store.
func New(bus *eventbus.Bus, controller *cluster.Controller, store Store) *Daemon {
	return &Daemon{
		bus:        bus,
		controller: controller,
		store:      store,
		queue:      bus.Queue(queueName),
		closed:     make(chan struct{}),
	}
}

// Enqueue submits a QueuedExperiment for the daemon to run.
func (d *Daemon) Enqueue(q gtypes.QueuedExperiment) error {
	return d.queue.Put(q)
}

// poison is the sentinel value Close enqueues to unblock Run.
const poison = "__POISON__"

// Close unblocks a running Run loop by enqueueing the poison value.
func (d *Daemon) Close() error {
	close(d.closed)
	return d.queue.Put(poison)
}

// Cancel transactionally removes a not-yet-started experiment from the
// queue by id. It returns false (not an error) if no queued item matches
// id, and eventbus.ErrCancel if the removal could not be committed after
// the queue's bounded retries.
func (d *Daemon) Cancel(id string) (bool, error) {
	items, err := d.queue.Range()
	if err != nil {
		return false, err
	}
	for i, raw := range items {
		var literal string
		if json.Unmarshal(raw, &literal) == nil && literal == poison {
			continue
		}
		var queued gtypes.QueuedExperiment
		if json.Unmarshal(raw, &queued) != nil {
			continue
		}
		if queued.Experiment.Id != id {
			continue
		}
		if err := d.queue.Remove(int64(i)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Run blocks, consuming queued experiments until Close is called or ctx
// is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	log.Logger.Info().Msg("experiment: listening for incoming experiment")
	for {
		raw, err := d.queue.Get(ctx)
		if err != nil {
			if err == eventbus.ErrQueueShutdown || ctx.Err() != nil {
				return nil
			}
			return err
		}

		var literal string
		if json.Unmarshal(raw, &literal) == nil && literal == poison {
			log.Logger.Info().Msg("experiment: exiting daemon loop")
			return nil
		}

		var queued gtypes.QueuedExperiment
		if err := json.Unmarshal(raw, &queued); err != nil {
			log.Logger.Warn().Err(err).Msg("experiment: malformed queued experiment, dropping")
			continue
		}

		exp := materialize(queued.Experiment)
		d.runOne(ctx, exp, queued.Configuration)
	}
}

func materialize(exp gtypes.Experiment) gtypes.Experiment {
	if exp.Id == "" {
		exp.Id = uuid.NewString()
	}
	if exp.Name == "" {
		exp.Name = exp.Id
	}
	if exp.Creator == "" {
		exp.Creator = fmt.Sprintf("galileo-%d", os.Getpid())
	}
	if exp.Created.IsZero() {
		exp.Created = time.Now()
	}
	exp.Status = gtypes.ExperimentQueued
	return exp
}

func (d *Daemon) runOne(ctx context.Context, exp gtypes.Experiment, cfg gtypes.ExperimentConfiguration) {
	exp.Status = gtypes.ExperimentInProgress
	exp.Start = time.Now()
	d.save(exp)

	logger := log.WithExperimentID(exp.Id)
	logger.Info().Msg("experiment: starting")

	if err := d.controller.StartTracing(); err != nil {
		logger.Warn().Err(err).Msg("experiment: start tracing failed")
	}
	status := gtypes.ExperimentFinished
	if err := d.runSchedule(ctx, exp.Id, cfg); err != nil {
		logger.Error().Err(err).Msg("experiment: run failed")
		status = gtypes.ExperimentFailed
	}
	if err := d.controller.StopTracing(); err != nil {
		logger.Warn().Err(err).Msg("experiment: stop tracing failed")
	}

	exp.Status = status
	exp.End = time.Now()
	d.save(exp)
	metrics.ExperimentsTotal.WithLabelValues(string(status)).Inc()
	logger.Info().Str("status", string(status)).Msg("experiment: finalized")
}

func (d *Daemon) save(exp gtypes.Experiment) {
	if err := d.store.Save(exp); err != nil {
		log.WithExperimentID(exp.Id).Warn().Err(err).Msg("experiment: save failed")
	}
}

// runSchedule spawns one client group per workload (one worker-local
// clientsPerHost batch per matching worker), steps every tick of the
// schedule pushing each workload's per-tick target rate through its
// group's host-rate split, then stops and closes every group.
func (d *Daemon) runSchedule(ctx context.Context, expID string, cfg gtypes.ExperimentConfiguration) error {
	groups := make([]*cluster.ClientGroup, 0, len(cfg.Workloads))
	defer func() {
		for _, g := range groups {
			g.Close(ctx)
		}
	}()

	for _, w := range cfg.Workloads {
		clientCfg := gtypes.ClientConfig{
			Service:        w.Service,
			App:            w.Client,
			Parameters:     w.ClientParams,
			ClientsPerHost: w.ClientsPerHost,
		}
		group, err := cluster.NewClientGroup(ctx, d.controller, clientCfg, w.ClientsPerHost)
		if err != nil {
			return fmt.Errorf("spawn clients for %s: %w", w.Service, err)
		}
		groups = append(groups, group)
	}

	ticks := cfg.Ticks()
	for t := 0; t < ticks; t++ {
		timer := metrics.NewTimer()
		for i, w := range cfg.Workloads {
			if t >= len(w.Ticks) {
				continue
			}
			rate := float64(w.Ticks[t])
			if err := groups[i].SetRps(rate); err != nil {
				return fmt.Errorf("set rps for %s: %w", w.Service, err)
			}
		}
		timer.ObserveDurationVec(metrics.ExperimentTickDuration, expID)

		select {
		case <-time.After(time.Duration(cfg.Interval * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, g := range groups {
		g.SetRps(0)
	}
	return nil
}
