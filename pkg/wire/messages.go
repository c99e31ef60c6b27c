// Package wire defines the tagged Command/Event/Reply messages exchanged
// over the event bus as fixed Go structs; the event-bus dispatcher does
// not pattern-match a tag, each message type owns its own topic or RPC
// name.
package wire

import "github.com/edgerun/galileo-go/pkg/gtypes"

// Broadcast command topics.
const (
	TopicRegisterWorkerCommand = "cmd:register_worker"
	TopicStartTracingCommand   = "cmd:start_tracing"
	TopicPauseTracingCommand   = "cmd:pause_tracing"
	TopicSetWorkloadCommand    = "cmd:set_workload"
	TopicStopWorkloadCommand   = "cmd:stop_workload"
	TopicCreateClientCommand   = "cmd:create_client"
	TopicCloseClientCommand    = "cmd:close_client"
)

// Event topics.
const (
	TopicRegisterWorkerEvent   = "evt:register_worker"
	TopicUnregisterWorkerEvent = "evt:unregister_worker"
	TopicClientStartedEvent    = "evt:client_started"
	TopicClientStoppedEvent    = "evt:client_stopped"
	TopicWorkloadDoneEvent     = "evt:workload_done"
)

// RPC endpoint names.
const (
	RPCWorkerPing = "WorkerDaemon.ping"
)

// CreateClientRPC returns the per-worker RPC name
// WorkerDaemon.create_client:{worker}.
func CreateClientRPC(worker string) string {
	return "WorkerDaemon.create_client:" + worker
}

// ClientInfoRPC returns the per-client RPC name Client.info:{clientId}.
func ClientInfoRPC(clientID string) string {
	return "Client.info:" + clientID
}

// RegisterWorkerCommand asks every worker to (re-)register itself,
// broadcast by discover().
type RegisterWorkerCommand struct{}

// StartTracingCommand broadcasts START onto every worker's trace logger.
type StartTracingCommand struct{}

// PauseTracingCommand broadcasts PAUSE onto every worker's trace logger.
type PauseTracingCommand struct{}

// SetWorkloadCommand is the core workload contract: it carries a full
// WorkloadSpec. SetRpsCommand below is a constant-distribution
// convenience on top of it.
type SetWorkloadCommand struct {
	Spec gtypes.WorkloadSpec `json:"spec"`
}

// SetRpsCommand is a convenience wrapper equivalent to
// SetWorkloadCommand{Spec: WorkloadSpec{Distribution:"constant", ...}}.
// It exists because a constant-rate workload is overwhelmingly the common
// case operators want to express without constructing a full WorkloadSpec.
type SetRpsCommand struct {
	ClientId gtypes.ClientId `json:"client_id"`
	Rate     float64         `json:"rate"`
}

// ToWorkloadSpec converts the RPS convenience command into the canonical
// constant-distribution WorkloadSpec.
func (c SetRpsCommand) ToWorkloadSpec() gtypes.WorkloadSpec {
	interval := 0.0
	if c.Rate > 0 {
		interval = 1.0 / c.Rate
	}
	return gtypes.WorkloadSpec{
		ClientId:     c.ClientId,
		Distribution: "constant",
		Parameters:   []float64{interval},
	}
}

// StopWorkloadCommand pauses the named client's generator.
type StopWorkloadCommand struct {
	ClientId gtypes.ClientId `json:"client_id"`
}

// CreateClientCommand asks the named host's worker daemon to spawn Num
// clients with the given configuration.
type CreateClientCommand struct {
	Host   gtypes.WorkerId     `json:"host"`
	Config gtypes.ClientConfig `json:"config"`
	Num    int                 `json:"num"`
}

// CloseClientCommand asks whichever worker owns ClientId to terminate it.
type CloseClientCommand struct {
	ClientId gtypes.ClientId `json:"client_id"`
}

// RegisterWorkerEvent announces a worker has completed registration.
type RegisterWorkerEvent struct {
	WorkerId gtypes.WorkerId   `json:"worker_id"`
	Labels   map[string]string `json:"labels"`
}

// UnregisterWorkerEvent announces a worker has left the registry.
type UnregisterWorkerEvent struct {
	WorkerId gtypes.WorkerId `json:"worker_id"`
}

// ClientStartedEvent announces a client process has started running.
type ClientStartedEvent struct {
	Description gtypes.ClientDescription `json:"description"`
}

// ClientStoppedEvent announces a client process has terminated.
type ClientStoppedEvent struct {
	ClientId gtypes.ClientId `json:"client_id"`
}

// WorkloadDoneEvent is published exactly once per completed finite
// workload.
type WorkloadDoneEvent struct {
	ClientId gtypes.ClientId `json:"client_id"`
}
