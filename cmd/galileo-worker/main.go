package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgerun/galileo-go/pkg/apps"
	"github.com/edgerun/galileo-go/pkg/cluster"
	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
	"github.com/edgerun/galileo-go/pkg/router"
	"github.com/edgerun/galileo-go/pkg/routing"
	"github.com/edgerun/galileo-go/pkg/substrate"
	"github.com/edgerun/galileo-go/pkg/tracelog"
	"github.com/edgerun/galileo-go/pkg/worker"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "galileo-worker",
	Short: "Run a galileo worker daemon",
	Long: `galileo-worker registers itself with the cluster controller, spawns
emulated clients on command, and hosts the trace logger those clients
feed.`,
	RunE: runWorker,
}

func init() {
	rootCmd.Flags().String("worker-id", "", "Unique worker id (defaults to hostname)")
	rootCmd.Flags().String("redis-host", "localhost", "Coordination substrate host")
	rootCmd.Flags().Int("redis-port", 6379, "Coordination substrate port")
	rootCmd.Flags().StringToString("label", map[string]string{}, "Worker label (repeatable, key=value)")
	rootCmd.Flags().String("app-dir", "./apps", "Directory of app manifests this worker can serve")
	rootCmd.Flags().String("trace-dir", "./traces", "Directory the file trace writer appends CSVs into")
	rootCmd.Flags().String("balancer", "round-robin", "Balancer strategy: static, random, round-robin")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Address the Prometheus metrics endpoint listens on")
}

func runWorker(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	workerID, _ := cmd.Flags().GetString("worker-id")
	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve worker id: %w", err)
		}
		workerID = hostname
	}
	redisHost, _ := cmd.Flags().GetString("redis-host")
	redisPort, _ := cmd.Flags().GetInt("redis-port")
	labels, _ := cmd.Flags().GetStringToString("label")
	appDir, _ := cmd.Flags().GetString("app-dir")
	traceDir, _ := cmd.Flags().GetString("trace-dir")
	balancerName, _ := cmd.Flags().GetString("balancer")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	sub, err := substrate.New(&substrate.Options{Host: redisHost, Port: redisPort})
	if err != nil {
		metrics.RegisterComponent("substrate", false, err.Error())
		return fmt.Errorf("connect to substrate: %w", err)
	}
	defer sub.Close()
	metrics.RegisterComponent("substrate", true, "")

	bus := eventbus.Init(sub)
	defer bus.Shutdown()
	metrics.RegisterComponent("eventbus", true, "")

	controller := cluster.New(sub, bus)

	table := routing.NewRedisTable(sub)
	cachingTable, stopCache, err := routing.NewCachingTable(context.Background(), sub, table)
	if err != nil {
		return fmt.Errorf("start routing cache: %w", err)
	}
	defer stopCache()

	balancer, err := newBalancer(balancerName, cachingTable)
	if err != nil {
		return err
	}

	writer, err := tracelog.NewFileWriter(traceDir, workerID)
	if err != nil {
		return fmt.Errorf("create trace writer: %w", err)
	}

	registry := apps.NewRegistry()
	loader := apps.NewDirectoryLoader(appDir, registry)

	w := worker.New(worker.Config{
		WorkerId: workerID,
		Labels:   labels,
		TraceDir: traceDir,
		NewRouter: func(gtypes.ClientConfig) router.Router {
			return router.NewHostRouter(balancer, router.DefaultTimeout, router.DefaultRetries)
		},
		AppLoader: loader,
	}, bus, controller, writer)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	collector := metrics.NewCollector(workerMetricsView{controller}, cachingTable, 0)
	collector.Start(ctx)
	defer collector.Stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		_ = http.ListenAndServe(metricsAddr, mux)
	}()
	fmt.Printf("galileo-worker %s running, metrics at http://%s/metrics\n", workerID, metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	w.Stop(ctx)
	return nil
}

// workerMetricsView adapts cluster.Controller to metrics.ClusterView.
type workerMetricsView struct {
	controller *cluster.Controller
}

func (v workerMetricsView) ListWorkers(ctx context.Context, pattern string) ([]string, error) {
	return v.controller.ListWorkers(ctx, pattern)
}

func (v workerMetricsView) ListClients(ctx context.Context, worker string) (int, error) {
	clients, err := v.controller.ListClients(ctx, worker)
	if err != nil {
		return 0, err
	}
	return len(clients), nil
}

func newBalancer(name string, table routing.Table) (routing.Balancer, error) {
	switch name {
	case "static":
		return &routing.StaticBalancer{}, nil
	case "random":
		return &routing.WeightedRandomBalancer{Table: table}, nil
	case "round-robin":
		return routing.NewWeightedRoundRobinBalancer(table), nil
	default:
		return nil, fmt.Errorf("unknown balancer %q", name)
	}
}
