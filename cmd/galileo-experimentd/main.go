package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgerun/galileo-go/pkg/cluster"
	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/experiment"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/log"
	"github.com/edgerun/galileo-go/pkg/metrics"
	"github.com/edgerun/galileo-go/pkg/substrate"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "galileo-experimentd",
	Short: "Run the galileo experiment daemon",
	Long: `galileo-experimentd consumes queued experiments one at a time, drives
each workload's client groups through its tick schedule, and records the
terminal status of every run.`,
	RunE: runExperimentd,
}

func init() {
	rootCmd.Flags().String("redis-host", "localhost", "Coordination substrate host")
	rootCmd.Flags().Int("redis-port", 6379, "Coordination substrate port")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9092", "Address the Prometheus metrics endpoint listens on")
}

func runExperimentd(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	redisHost, _ := cmd.Flags().GetString("redis-host")
	redisPort, _ := cmd.Flags().GetInt("redis-port")
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
	daemon := experiment.New(bus, controller, newMemoryStore())

	collector := metrics.NewCollector(clusterMetricsView{controller}, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
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
	fmt.Printf("galileo-experimentd running, metrics at http://%s/metrics\n", metricsAddr)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- daemon.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
		daemon.Close()
		cancel()
	case err := <-runErrCh:
		cancel()
		return err
	}
	<-runErrCh
	return nil
}

// memoryStore is the default experiment.Store wired by this entrypoint:
// an in-process map good enough for a single daemon instance. Operators
// who need experiment history to survive a restart supply their own
// experiment.Store backed by whatever database they already run.
type memoryStore struct {
	mu    sync.Mutex
	byID  map[string]gtypes.Experiment
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byID: make(map[string]gtypes.Experiment)}
}

func (s *memoryStore) Save(exp gtypes.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[exp.Id] = exp
	return nil
}

func (s *memoryStore) Find(id string) (gtypes.Experiment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.byID[id]
	return exp, ok, nil
}

// clusterMetricsView adapts cluster.Controller to metrics.ClusterView.
type clusterMetricsView struct {
	controller *cluster.Controller
}

func (v clusterMetricsView) ListWorkers(ctx context.Context, pattern string) ([]string, error) {
	return v.controller.ListWorkers(ctx, pattern)
}

func (v clusterMetricsView) ListClients(ctx context.Context, worker string) (int, error) {
	clients, err := v.controller.ListClients(ctx, worker)
	if err != nil {
		return 0, err
	}
	return len(clients), nil
}
