package cluster

import (
	"context"

	"github.com/edgerun/galileo-go/pkg/gtypes"
)

// ClientGroup is a convenience handle over a clientsPerHost-per-matching-worker
// placement: the experiment daemon and the CLI drive an entire workload's
// clients as one unit rather than one client_id at a time.
//
// Per spec §4.10's schedule generation contract, "clients-per-host is a
// worker-local multiplier": every worker matching the group's config gets
// exactly clientsPerHost clients, not a best-fit share of some total.
// SetRps honors the same contract's host-rate distribution: a service
// rate is split across the group's workers via round-robin
// (rates[i%W] += 1, repeated rate times, in the name-sorted order
// Controller.candidateWorkers returns), and each worker's
// share is divided evenly among that worker's clientsPerHost clients.
type ClientGroup struct {
	controller     *Controller
	workers        []string
	clientsPerHost int
	byWorker       [][]gtypes.ClientDescription
	clients        []gtypes.ClientDescription
}

// NewClientGroup spawns clientsPerHost clients on every worker matching
// cfg.WorkerLabels and returns a group over them. Fails with
// ErrNoCandidate if no worker matches.
func NewClientGroup(ctx context.Context, controller *Controller, cfg gtypes.ClientConfig, clientsPerHost int) (*ClientGroup, error) {
	workers, err := controller.candidateWorkers(ctx, cfg.WorkerLabels)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, ErrNoCandidate
	}

	byWorker := make([][]gtypes.ClientDescription, len(workers))
	var all []gtypes.ClientDescription
	for i, host := range workers {
		descriptions, err := controller.CreateClient(ctx, host, cfg, clientsPerHost)
		if err != nil {
			return nil, err
		}
		byWorker[i] = descriptions
		all = append(all, descriptions...)
	}

	return &ClientGroup{
		controller:     controller,
		workers:        workers,
		clientsPerHost: clientsPerHost,
		byWorker:       byWorker,
		clients:        all,
	}, nil
}

// Clients returns the descriptions of every client in the group.
func (g *ClientGroup) Clients() []gtypes.ClientDescription {
	return g.clients
}

// SetWorkload pushes the given workload spec, retargeted at each member's
// client id, to every client in the group.
func (g *ClientGroup) SetWorkload(spec gtypes.WorkloadSpec) error {
	for _, c := range g.clients {
		s := spec
		s.ClientId = c.ClientId
		if err := g.controller.SetWorkload(s); err != nil {
			return err
		}
	}
	return nil
}

// SetRps splits serviceRate across the group's workers per spec §4.10's
// host-rate distribution contract and pushes each worker's share, divided
// evenly among that worker's clients, as a constant-rate workload.
func (g *ClientGroup) SetRps(serviceRate float64) error {
	rates := distributeRate(serviceRate, len(g.workers))
	for i, rate := range rates {
		perClient := rate
		if g.clientsPerHost > 0 {
			perClient = rate / float64(g.clientsPerHost)
		}
		interval := 0.0
		if perClient > 0 {
			interval = 1.0 / perClient
		}
		spec := gtypes.WorkloadSpec{
			Distribution: "constant",
			Parameters:   []float64{interval},
		}
		for _, c := range g.byWorker[i] {
			s := spec
			s.ClientId = c.ClientId
			if err := g.controller.SetWorkload(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// distributeRate splits rate across n buckets via round-robin
// (rates[i%n] += 1, repeated round(rate) times), the smoothest possible
// integer split, matching spec §4.10's host-rate distribution contract.
func distributeRate(rate float64, n int) []float64 {
	rates := make([]float64, n)
	if n == 0 {
		return rates
	}
	total := int(rate + 0.5)
	for i := 0; i < total; i++ {
		rates[i%n]++
	}
	return rates
}

// Close stops every client's workload and unregisters the group's
// members from the cluster registry.
func (g *ClientGroup) Close(ctx context.Context) error {
	for _, c := range g.clients {
		if err := g.controller.StopWorkload(c.ClientId); err != nil {
			return err
		}
		if err := g.controller.UnregisterClient(ctx, c.ClientId); err != nil {
			return err
		}
	}
	return nil
}
