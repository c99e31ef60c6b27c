package gtypes

import "time"

// WorkerId identifies a live worker in the cluster registry.
type WorkerId = string

// ClientId identifies an emulated client process: "{worker}:{service}:{seq}".
type ClientId = string

// ClientConfig is the immutable configuration a client is spawned with.
// Parameters is opaque to the core; only the recognized fields below are
// interpreted by the client and router.
type ClientConfig struct {
	Service        string            `json:"service"`
	App            string            `json:"app,omitempty"`
	Parameters     map[string]any    `json:"parameters,omitempty"`
	WorkerLabels   map[string]string `json:"worker_labels,omitempty"`
	ClientsPerHost int               `json:"clients_per_host,omitempty"`
}

// ClientDescription is the registered identity of a spawned client.
type ClientDescription struct {
	ClientId ClientId     `json:"client_id"`
	WorkerId WorkerId     `json:"worker_id"`
	Config   ClientConfig `json:"config"`
}

// ClientInfo is the reply payload of the Client.info:{clientId} RPC
// (wire.ClientInfoRPC).
type ClientInfo struct {
	Description ClientDescription `json:"description"`
	Requests    int64             `json:"requests"`
	Failed      int64             `json:"failed"`
}

// RoutingRecord maps a service to a weighted set of hosts. len(Hosts) must
// equal len(Weights) and be non-zero; weights must be non-negative and not
// all zero.
type RoutingRecord struct {
	Service string   `json:"service"`
	Hosts   []string `json:"hosts"`
	Weights []int    `json:"weights"`
}

// ServiceRequest is a single outbound call a client is about to make.
// Created is set when the request is constructed; Sent is set by the router
// immediately before dispatch.
type ServiceRequest struct {
	Service   string         `json:"service"`
	Path      string         `json:"path"`
	Method    string         `json:"method"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Created   time.Time      `json:"created"`
	Sent      time.Time      `json:"sent"`
	ClientId  ClientId       `json:"client_id"`
	RequestId string         `json:"request_id"`
}

// RequestTrace is the outcome of a dispatched ServiceRequest. Status < 0
// denotes a transport failure; the request never reached the server.
type RequestTrace struct {
	RequestId string    `json:"request_id"`
	ClientId  ClientId  `json:"client_id"`
	Service   string    `json:"service"`
	Server    string    `json:"server"`
	Created   time.Time `json:"created"`
	Sent      time.Time `json:"sent"`
	Done      time.Time `json:"done"`
	Status    int       `json:"status"`
	Response  string    `json:"response"`
}

// WorkloadSpec describes the interarrival process a client's request
// generator should run. Num == nil means an unbounded workload; Num == 0
// completes immediately with no requests emitted.
type WorkloadSpec struct {
	ClientId     ClientId  `json:"client_id"`
	Num          *int      `json:"num,omitempty"`
	Distribution string    `json:"distribution"`
	Parameters   []float64 `json:"parameters"`
}

// ExperimentStatus is the lifecycle stage of an Experiment. Transitions are
// monotone: QUEUED -> IN_PROGRESS -> {FINISHED, FAILED}; terminal states
// never transition back.
type ExperimentStatus string

const (
	ExperimentQueued     ExperimentStatus = "QUEUED"
	ExperimentInProgress ExperimentStatus = "IN_PROGRESS"
	ExperimentFinished   ExperimentStatus = "FINISHED"
	ExperimentFailed     ExperimentStatus = "FAILED"
)

// Experiment is the persisted record of one run.
type Experiment struct {
	Id      string           `json:"id"`
	Name    string           `json:"name"`
	Creator string           `json:"creator"`
	Created time.Time        `json:"created"`
	Start   time.Time        `json:"start,omitempty"`
	End     time.Time        `json:"end,omitempty"`
	Status  ExperimentStatus `json:"status"`
}

// WorkloadConfiguration is one service's schedule within an experiment.
// Ticks is authoritative: it carries the per-tick target rate for the
// service across the full run. ArrivalPattern is a descriptive label
// only: nothing reads it, and it is not attached to traces or telemetry.
type WorkloadConfiguration struct {
	Service        string         `json:"service"`
	Ticks          []int          `json:"ticks"`
	ClientsPerHost int            `json:"clients_per_host"`
	ArrivalPattern string         `json:"arrival_pattern"`
	Client         string         `json:"client,omitempty"`
	ClientParams   map[string]any `json:"client_params,omitempty"`
}

// ExperimentConfiguration is the schedule attached to an Experiment.
type ExperimentConfiguration struct {
	Duration  float64                  `json:"duration"`
	Interval  float64                  `json:"interval"`
	Workloads []WorkloadConfiguration `json:"workloads"`
}

// Ticks returns ceil(Duration/Interval), the number of schedule ticks.
func (c ExperimentConfiguration) Ticks() int {
	if c.Interval <= 0 {
		return 0
	}
	n := c.Duration / c.Interval
	ticks := int(n)
	if float64(ticks) < n {
		ticks++
	}
	return ticks
}

// QueuedExperiment is the atomic pair enqueued for the experiment daemon.
type QueuedExperiment struct {
	Experiment    Experiment              `json:"experiment"`
	Configuration ExperimentConfiguration `json:"configuration"`
}
