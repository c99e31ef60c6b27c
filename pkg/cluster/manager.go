package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
	"github.com/edgerun/galileo-go/pkg/substrate"
	"github.com/edgerun/galileo-go/pkg/wire"
)

const (
	workerSetKey    = "galileo:workers"
	workerLabelsKey = "galileo:worker:%s:labels"
	workerClientsKeyFmt = "galileo:worker:%s:clients"
	clientKeyFmt    = "galileo:client:%s"

	pingTimeout   = 2 * time.Second
	createTimeout = 3 * time.Second
)

func workerClientsKey(worker string) string { return fmt.Sprintf(workerClientsKeyFmt, worker) }
func clientKey(id string) string            { return fmt.Sprintf(clientKeyFmt, id) }
func workerLabels(worker string) string     { return fmt.Sprintf(workerLabelsKey, worker) }

// Controller is the cluster controller: the single entry point for
// worker/client registry mutations and fleet-wide broadcast commands.
type Controller struct {
	sub *substrate.Substrate
	bus *eventbus.Bus
}

// New builds a controller over the given substrate and event bus.
func New(sub *substrate.Substrate, bus *eventbus.Bus) *Controller {
	return &Controller{sub: sub, bus: bus}
}

// RegisterWorker adds name to the worker set with the given labels.
func (c *Controller) RegisterWorker(ctx context.Context, name string, labels map[string]string) error {
	log.Logger.Info().Str("worker_id", name).Msg("registering worker")
	if err := c.sub.SAdd(ctx, workerSetKey, name); err != nil {
		return err
	}
	return c.sub.HSet(ctx, workerLabels(name), labels)
}

// UnregisterWorker removes name from the worker set and deletes its
// client set.
func (c *Controller) UnregisterWorker(ctx context.Context, name string) error {
	log.Logger.Info().Str("worker_id", name).Msg("unregistering worker")
	if err := c.sub.SRem(ctx, workerSetKey, name); err != nil {
		return err
	}
	return c.sub.Delete(ctx, workerClientsKey(name))
}

// ListWorkers returns every registered worker name, optionally filtered
// by a regular expression anchored to the full name.
func (c *Controller) ListWorkers(ctx context.Context, pattern string) ([]string, error) {
	workers, err := c.sub.SMembers(ctx, workerSetKey)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return workers, nil
	}

	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern %q: %v", ErrInvalidPattern, pattern, err)
	}

	var matched []string
	for _, w := range workers {
		if re.MatchString(w) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

// WorkerInfo pairs a worker's name with its registered labels.
type WorkerInfo struct {
	Name   string
	Labels map[string]string
}

// ListWorkersInfo returns (name, labels) pairs for every matching worker.
func (c *Controller) ListWorkersInfo(ctx context.Context, pattern string) ([]WorkerInfo, error) {
	names, err := c.ListWorkers(ctx, pattern)
	if err != nil {
		return nil, err
	}
	result := make([]WorkerInfo, 0, len(names))
	for _, name := range names {
		labels, err := c.sub.HGetAll(ctx, workerLabels(name))
		if err != nil {
			return nil, err
		}
		result = append(result, WorkerInfo{Name: name, Labels: labels})
	}
	return result, nil
}

// RegisterClient records a spawned client against its hosting worker.
func (c *Controller) RegisterClient(ctx context.Context, desc gtypes.ClientDescription) error {
	if err := c.sub.SAdd(ctx, workerClientsKey(desc.WorkerId), desc.ClientId); err != nil {
		return err
	}
	body, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return c.sub.Set(ctx, clientKey(desc.ClientId), string(body))
}

// UnregisterClient removes a client's description and its membership in
// its worker's client set.
func (c *Controller) UnregisterClient(ctx context.Context, clientID string) error {
	desc, ok, err := c.GetClientDescription(ctx, clientID)
	if err != nil || !ok {
		return err
	}
	if err := c.sub.Delete(ctx, clientKey(clientID)); err != nil {
		return err
	}
	return c.sub.SRem(ctx, workerClientsKey(desc.WorkerId), clientID)
}

// GetClientDescription looks up a single client's description.
func (c *Controller) GetClientDescription(ctx context.Context, clientID string) (gtypes.ClientDescription, bool, error) {
	doc, ok, err := c.sub.Get(ctx, clientKey(clientID))
	if err != nil || !ok {
		return gtypes.ClientDescription{}, false, err
	}
	var desc gtypes.ClientDescription
	if err := json.Unmarshal([]byte(doc), &desc); err != nil {
		return gtypes.ClientDescription{}, false, err
	}
	return desc, true, nil
}

// ListClients enumerates client descriptions; when worker is empty it
// returns the union across every known worker.
func (c *Controller) ListClients(ctx context.Context, worker string) ([]gtypes.ClientDescription, error) {
	var ids []string
	if worker != "" {
		members, err := c.sub.SMembers(ctx, workerClientsKey(worker))
		if err != nil {
			return nil, err
		}
		ids = members
	} else {
		workers, err := c.ListWorkers(ctx, "")
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{})
		for _, w := range workers {
			members, err := c.sub.SMembers(ctx, workerClientsKey(w))
			if err != nil {
				return nil, err
			}
			for _, m := range members {
				seen[m] = struct{}{}
			}
		}
		for id := range seen {
			ids = append(ids, id)
		}
	}

	descriptions := make([]gtypes.ClientDescription, 0, len(ids))
	for _, id := range ids {
		desc, ok, err := c.GetClientDescription(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			descriptions = append(descriptions, desc)
		}
	}
	return descriptions, nil
}

// CreateClient asks a single worker's daemon to spawn num clients with
// cfg, via the per-worker create_client RPC stub.
func (c *Controller) CreateClient(ctx context.Context, host string, cfg gtypes.ClientConfig, num int) ([]gtypes.ClientDescription, error) {
	stub := c.bus.Stub(wire.CreateClientRPC(host), eventbus.StubOptions{Timeout: createTimeout})
	replies, err := stub(wire.CreateClientCommand{Host: host, Config: cfg, Num: num})
	if err != nil {
		return nil, err
	}

	var descriptions []gtypes.ClientDescription
	for _, reply := range replies {
		var batch []gtypes.ClientDescription
		if err := json.Unmarshal(reply, &batch); err != nil {
			return nil, err
		}
		descriptions = append(descriptions, batch...)
	}
	return descriptions, nil
}

// CreateClients places num clients across the workers matching
// cfg.WorkerLabels using best-fit-by-minimum-current-load: it repeatedly
// assigns the next placement to whichever candidate currently has the
// fewest clients, breaking ties by candidate order.
func (c *Controller) CreateClients(ctx context.Context, cfg gtypes.ClientConfig, num int) ([]gtypes.ClientDescription, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ClientPlacementDuration)

	candidates, err := c.candidateWorkers(ctx, cfg.WorkerLabels)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		metrics.ClientPlacementFailuresTotal.Inc()
		return nil, ErrNoCandidate
	}

	counts := make([]int, len(candidates))
	for i, w := range candidates {
		n, err := c.sub.SCard(ctx, workerClientsKey(w))
		if err != nil {
			return nil, err
		}
		counts[i] = int(n)
	}

	placement := packByMinimumLoad(counts, num)

	var descriptions []gtypes.ClientDescription
	for i, n := range placement {
		if n == 0 {
			continue
		}
		created, err := c.CreateClient(ctx, candidates[i], cfg, n)
		if err != nil {
			return nil, err
		}
		descriptions = append(descriptions, created...)
	}
	return descriptions, nil
}

// candidateWorkers returns every registered worker whose labels contain
// every key/value pair in required.
func (c *Controller) candidateWorkers(ctx context.Context, required map[string]string) ([]string, error) {
	infos, err := c.ListWorkersInfo(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(required) == 0 {
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name
		}
		sort.Strings(names)
		return names, nil
	}

	var matched []string
	for _, info := range infos {
		if matchesLabels(info.Labels, required) {
			matched = append(matched, info.Name)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// packByMinimumLoad distributes num placements one at a time onto
// whichever candidate currently holds the fewest, with ties broken by
// index order, and returns the per-candidate placement counts.
func packByMinimumLoad(loads []int, num int) []int {
	working := append([]int(nil), loads...)
	placement := make([]int, len(loads))
	for n := 0; n < num; n++ {
		minIdx := 0
		for i := 1; i < len(working); i++ {
			if working[i] < working[minIdx] {
				minIdx = i
			}
		}
		placement[minIdx]++
		working[minIdx]++
	}
	return placement
}

// Ping multi-stubs every live worker's ping endpoint with a 2s timeout.
func (c *Controller) Ping() ([]string, error) {
	stub := c.bus.Stub(wire.RPCWorkerPing, eventbus.StubOptions{Timeout: pingTimeout, Multi: true})
	replies, err := stub(nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(replies))
	for _, reply := range replies {
		var name string
		if err := json.Unmarshal(reply, &name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Discover clears the stale worker/client registry and asks every live
// worker to re-register.
func (c *Controller) Discover(ctx context.Context) error {
	workers, err := c.ListWorkers(ctx, "")
	if err != nil {
		return err
	}
	for _, w := range workers {
		if err := c.sub.Delete(ctx, workerClientsKey(w)); err != nil {
			return err
		}
	}
	if err := c.sub.Delete(ctx, workerSetKey); err != nil {
		return err
	}
	return c.bus.Publish(wire.TopicRegisterWorkerCommand, wire.RegisterWorkerCommand{})
}

// StartTracing broadcasts the START command to every worker's trace
// logger.
func (c *Controller) StartTracing() error {
	return c.bus.Publish(wire.TopicStartTracingCommand, wire.StartTracingCommand{})
}

// StopTracing broadcasts the PAUSE command to every worker's trace
// logger.
func (c *Controller) StopTracing() error {
	return c.bus.Publish(wire.TopicPauseTracingCommand, wire.PauseTracingCommand{})
}

// SetWorkload publishes a SetWorkloadCommand for the named client.
func (c *Controller) SetWorkload(spec gtypes.WorkloadSpec) error {
	return c.bus.Publish(wire.TopicSetWorkloadCommand, wire.SetWorkloadCommand{Spec: spec})
}

// StopWorkload publishes a StopWorkloadCommand for the named client.
func (c *Controller) StopWorkload(clientID string) error {
	return c.bus.Publish(wire.TopicStopWorkloadCommand, wire.StopWorkloadCommand{ClientId: clientID})
}
