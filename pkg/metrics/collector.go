package metrics

import (
	"context"
	"time"
)

// ClusterView is the narrow read surface the collector polls. The daemons
// in cmd/galileo-worker and cmd/galileo-experimentd satisfy it with small
// adapters over *cluster.Controller.
type ClusterView interface {
	ListWorkers(ctx context.Context, pattern string) ([]string, error)
	ListClients(ctx context.Context, worker string) (int, error)
}

// RoutingView is the narrow read surface used for the service count gauge;
// satisfied by *routing.RedisTable and *routing.CachingTable.
type RoutingView interface {
	ListServices(ctx context.Context) ([]string, error)
}

// Collector periodically polls the cluster controller and routing table
// and updates the cluster-level gauges (WorkersTotal, ClientsTotal,
// ServicesTotal). Per-request counters and histograms are updated inline
// by the packages that own those events instead.
type Collector struct {
	cluster  ClusterView
	routing  RoutingView
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector builds a collector over the given cluster and routing
// views, polling every interval (defaults to 15s if non-positive). routing
// may be nil when no routing table is wired into the process.
func NewCollector(cluster ClusterView, routing RoutingView, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{cluster: cluster, routing: routing, interval: interval, stopCh: make(chan struct{})}
}

// Start launches the polling loop in a new goroutine.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect(ctx)
		for {
			select {
			case <-ticker.C:
				c.collect(ctx)
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the polling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	c.collectWorkersAndClients(ctx)
	c.collectServices(ctx)
}

func (c *Collector) collectWorkersAndClients(ctx context.Context) {
	workers, err := c.cluster.ListWorkers(ctx, "")
	if err != nil {
		return
	}
	WorkersTotal.WithLabelValues("registered").Set(float64(len(workers)))

	total := 0
	for _, w := range workers {
		count, err := c.cluster.ListClients(ctx, w)
		if err != nil {
			continue
		}
		total += count
	}
	ClientsTotal.WithLabelValues("running").Set(float64(total))
}

func (c *Collector) collectServices(ctx context.Context) {
	if c.routing == nil {
		return
	}
	services, err := c.routing.ListServices(ctx)
	if err != nil {
		return
	}
	ServicesTotal.Set(float64(len(services)))
}
