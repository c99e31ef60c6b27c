// galileo-ctl is a thin operator CLI over the cluster controller: list
// workers/clients, spawn clients, set or stop one client's rate, and print
// routing records. An interactive shell and HTTP admin API are out of
// scope; every subcommand here is a direct call into pkg/cluster or
// pkg/routing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgerun/galileo-go/pkg/cluster"
	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/routing"
	"github.com/edgerun/galileo-go/pkg/substrate"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "galileo-ctl",
	Short: "Operate a galileo cluster: list/spawn/rate/close/routing",
}

func init() {
	rootCmd.PersistentFlags().String("redis-host", "localhost", "Coordination substrate host")
	rootCmd.PersistentFlags().Int("redis-port", 6379, "Coordination substrate port")

	rootCmd.AddCommand(workersCmd, clientsCmd, spawnCmd, rpsCmd, closeCmd, routingCmd, pingCmd)
}

func connect(cmd *cobra.Command) (*substrate.Substrate, *eventbus.Bus, *cluster.Controller, error) {
	host, _ := cmd.Flags().GetString("redis-host")
	port, _ := cmd.Flags().GetInt("redis-port")
	sub, err := substrate.New(&substrate.Options{Host: host, Port: port})
	if err != nil {
		return nil, nil, nil, err
	}
	bus := eventbus.Init(sub)
	return sub, bus, cluster.New(sub, bus), nil
}

var workersCmd = &cobra.Command{
	Use:   "workers [pattern]",
	Short: "List registered workers, optionally filtered by a name pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, bus, controller, err := connect(cmd)
		if err != nil {
			return err
		}
		defer sub.Close()
		defer bus.Shutdown()

		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		infos, err := controller.ListWorkersInfo(context.Background(), pattern)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s\t%v\n", info.Name, info.Labels)
		}
		return nil
	},
}

var clientsCmd = &cobra.Command{
	Use:   "clients [worker]",
	Short: "List clients, optionally scoped to one worker",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, bus, controller, err := connect(cmd)
		if err != nil {
			return err
		}
		defer sub.Close()
		defer bus.Shutdown()

		worker := ""
		if len(args) == 1 {
			worker = args[0]
		}
		clients, err := controller.ListClients(context.Background(), worker)
		if err != nil {
			return err
		}
		for _, c := range clients {
			fmt.Printf("%s\t%s\t%s\n", c.ClientId, c.WorkerId, c.Config.Service)
		}
		return nil
	},
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <service> <num>",
	Short: "Place num clients for service across the cluster via best-fit placement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, bus, controller, err := connect(cmd)
		if err != nil {
			return err
		}
		defer sub.Close()
		defer bus.Shutdown()

		var num int
		if _, err := fmt.Sscanf(args[1], "%d", &num); err != nil {
			return fmt.Errorf("invalid num %q: %w", args[1], err)
		}

		descriptions, err := controller.CreateClients(context.Background(), gtypes.ClientConfig{Service: args[0]}, num)
		if err != nil {
			return err
		}
		for _, d := range descriptions {
			fmt.Println(d.ClientId)
		}
		return nil
	},
}

var rpsCmd = &cobra.Command{
	Use:   "rps <client_id> <rate>",
	Short: "Set a client's workload to a constant request rate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, bus, controller, err := connect(cmd)
		if err != nil {
			return err
		}
		defer sub.Close()
		defer bus.Shutdown()

		var rate float64
		if _, err := fmt.Sscanf(args[1], "%g", &rate); err != nil {
			return fmt.Errorf("invalid rate %q: %w", args[1], err)
		}
		interval := 0.0
		if rate > 0 {
			interval = 1.0 / rate
		}
		return controller.SetWorkload(gtypes.WorkloadSpec{
			ClientId:     args[0],
			Distribution: "constant",
			Parameters:   []float64{interval},
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <client_id>",
	Short: "Stop a client's workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, bus, controller, err := connect(cmd)
		if err != nil {
			return err
		}
		defer sub.Close()
		defer bus.Shutdown()
		return controller.StopWorkload(args[0])
	},
}

var routingCmd = &cobra.Command{
	Use:   "routing [service]",
	Short: "Print routing records, optionally scoped to one service",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("redis-host")
		port, _ := cmd.Flags().GetInt("redis-port")
		sub, err := substrate.New(&substrate.Options{Host: host, Port: port})
		if err != nil {
			return err
		}
		defer sub.Close()

		table := routing.NewRedisTable(sub)
		ctx := context.Background()

		services := args
		if len(services) == 0 {
			services, err = table.ListServices(ctx)
			if err != nil {
				return err
			}
		}
		for _, service := range services {
			record, err := table.GetRouting(ctx, service)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", service, err)
				continue
			}
			body, _ := json.Marshal(record)
			fmt.Println(string(body))
		}
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping every live worker daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, bus, controller, err := connect(cmd)
		if err != nil {
			return err
		}
		defer sub.Close()
		defer bus.Shutdown()

		names, err := controller.Ping()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}
