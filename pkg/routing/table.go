// Package routing implements the routing table (service -> weighted
// hosts), its substrate-backed and caching variants, and the balancer
// strategies that pick a host out of a routing record.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
	"github.com/edgerun/galileo-go/pkg/substrate"
)

// UpdateTopic is the fixed pub/sub topic every successful write publishes
// the affected service name on.
const UpdateTopic = "routing:updates"

var (
	// ErrNotFound is returned by GetRouting for a service with no record.
	ErrNotFound = errors.New("routing: no routing record for service")
	// ErrInvalidArgument is returned when a record's hosts/weights lengths
	// mismatch, or when a balancer is asked to route with all-zero weights.
	ErrInvalidArgument = errors.New("routing: invalid routing argument")
)

// Table is the routing table contract: list/get/set/remove/clear.
type Table interface {
	ListServices(ctx context.Context) ([]string, error)
	GetRouting(ctx context.Context, service string) (gtypes.RoutingRecord, error)
	SetRouting(ctx context.Context, record gtypes.RoutingRecord) error
	RemoveService(ctx context.Context, service string) error
	Clear(ctx context.Context) error
}

func hostsKey(service string) string   { return "routing:hosts:" + service }
func weightsKey(service string) string { return "routing:weights:" + service }

// RedisTable is the authoritative routing table, persisted in the
// coordination substrate.
type RedisTable struct {
	sub *substrate.Substrate
}

// NewRedisTable constructs the authoritative table over sub.
func NewRedisTable(sub *substrate.Substrate) *RedisTable {
	return &RedisTable{sub: sub}
}

func (t *RedisTable) ListServices(ctx context.Context) ([]string, error) {
	return t.sub.SMembers(ctx, "routing:services")
}

func (t *RedisTable) GetRouting(ctx context.Context, service string) (gtypes.RoutingRecord, error) {
	hosts, err := t.sub.LRange(ctx, hostsKey(service))
	if err != nil {
		return gtypes.RoutingRecord{}, err
	}
	if len(hosts) == 0 {
		return gtypes.RoutingRecord{}, fmt.Errorf("%w: %s", ErrNotFound, service)
	}
	weightStrs, err := t.sub.LRange(ctx, weightsKey(service))
	if err != nil {
		return gtypes.RoutingRecord{}, err
	}
	weights := make([]int, len(weightStrs))
	for i, w := range weightStrs {
		n, err := strconv.Atoi(w)
		if err != nil {
			return gtypes.RoutingRecord{}, fmt.Errorf("%w: weight %q is not an integer", ErrInvalidArgument, w)
		}
		weights[i] = n
	}
	return gtypes.RoutingRecord{Service: service, Hosts: hosts, Weights: weights}, nil
}

func (t *RedisTable) SetRouting(ctx context.Context, record gtypes.RoutingRecord) error {
	if len(record.Hosts) != len(record.Weights) || len(record.Hosts) == 0 {
		return fmt.Errorf("%w: hosts/weights length mismatch for %s", ErrInvalidArgument, record.Service)
	}

	if err := t.sub.Delete(ctx, hostsKey(record.Service), weightsKey(record.Service)); err != nil {
		return err
	}
	if err := t.sub.SAdd(ctx, "routing:services", record.Service); err != nil {
		return err
	}
	if err := t.sub.RPush(ctx, hostsKey(record.Service), record.Hosts...); err != nil {
		return err
	}
	weightStrs := make([]string, len(record.Weights))
	for i, w := range record.Weights {
		weightStrs[i] = strconv.Itoa(w)
	}
	if err := t.sub.RPush(ctx, weightsKey(record.Service), weightStrs...); err != nil {
		return err
	}
	return t.sub.Publish(ctx, UpdateTopic, record.Service)
}

func (t *RedisTable) RemoveService(ctx context.Context, service string) error {
	if err := t.sub.Delete(ctx, hostsKey(service), weightsKey(service)); err != nil {
		return err
	}
	if err := t.sub.SRem(ctx, "routing:services", service); err != nil {
		return err
	}
	return t.sub.Publish(ctx, UpdateTopic, service)
}

// Clear removes every service's routing record and publishes an update
// notification for each one removed.
func (t *RedisTable) Clear(ctx context.Context) error {
	services, err := t.ListServices(ctx)
	if err != nil {
		return err
	}
	for _, service := range services {
		if err := t.sub.Delete(ctx, hostsKey(service), weightsKey(service)); err != nil {
			return err
		}
		if err := t.sub.Publish(ctx, UpdateTopic, service); err != nil {
			return err
		}
	}
	return t.sub.Delete(ctx, "routing:services")
}

// CachingTable is the read-mostly variant: on construction it subscribes
// to UpdateTopic, invalidates the cache entry for the announced service,
// and refreshes the cached service list. Reads miss the cache -> load from
// the authoritative table -> populate -> return. A generation counter per
// cache entry guards the case where a notification arrives while a reload
// for the same service is already in flight: the fresh load is always
// tagged with the generation it started under, so a racing invalidation
// still wins.
type CachingTable struct {
	authoritative Table
	sub           *substrate.Substrate

	mu         sync.Mutex
	cache      map[string]cacheEntry
	services   []string
	generation map[string]int64
}

type cacheEntry struct {
	record     gtypes.RoutingRecord
	generation int64
}

// NewCachingTable constructs a caching table and starts its subscription
// loop. Call the returned stop function to stop it.
func NewCachingTable(ctx context.Context, sub *substrate.Substrate, authoritative Table) (*CachingTable, func(), error) {
	ct := &CachingTable{
		authoritative: authoritative,
		sub:           sub,
		cache:         make(map[string]cacheEntry),
		generation:    make(map[string]int64),
	}

	services, err := authoritative.ListServices(ctx)
	if err != nil {
		return nil, nil, err
	}
	ct.mu.Lock()
	ct.services = services
	ct.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	ps := sub.Subscribe(subCtx, UpdateTopic)
	ch := ps.Channel()

	go func() {
		defer ps.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ct.invalidate(subCtx, msg.Payload)
			case <-subCtx.Done():
				return
			}
		}
	}()

	return ct, cancel, nil
}

func (ct *CachingTable) invalidate(ctx context.Context, service string) {
	ct.mu.Lock()
	delete(ct.cache, service)
	ct.generation[service]++
	ct.mu.Unlock()

	services, err := ct.authoritative.ListServices(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("routing: failed to refresh service list after update notification")
		return
	}
	ct.mu.Lock()
	ct.services = services
	ct.mu.Unlock()
	metrics.RoutingCacheReloadsTotal.WithLabelValues(service).Inc()
}

func (ct *CachingTable) ListServices(ctx context.Context) ([]string, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return append([]string(nil), ct.services...), nil
}

func (ct *CachingTable) GetRouting(ctx context.Context, service string) (gtypes.RoutingRecord, error) {
	ct.mu.Lock()
	if entry, ok := ct.cache[service]; ok {
		ct.mu.Unlock()
		return entry.record, nil
	}
	generation := ct.generation[service]
	ct.mu.Unlock()

	record, err := ct.authoritative.GetRouting(ctx, service)
	if err != nil {
		return gtypes.RoutingRecord{}, err
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()
	// A notification may have invalidated this entry while the load above
	// was in flight; only populate if our generation is still current.
	if ct.generation[service] == generation {
		ct.cache[service] = cacheEntry{record: record, generation: generation}
	}
	return record, nil
}

func (ct *CachingTable) SetRouting(context.Context, gtypes.RoutingRecord) error {
	return errNotSupported
}

func (ct *CachingTable) RemoveService(context.Context, string) error {
	return errNotSupported
}

func (ct *CachingTable) Clear(context.Context) error {
	return errNotSupported
}

var errNotSupported = errors.New("routing: caching table is read-only")
