package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/wire"
)

// serveCreateClient wires a fake WorkerDaemon.create_client:{host} responder
// onto bus, handing back cmd.Num freshly minted descriptions the way a real
// worker daemon would.
func serveCreateClient(t *testing.T, c *Controller, host string) {
	t.Helper()
	seq := 0
	c.bus.Expose(wire.CreateClientRPC(host), func(payload json.RawMessage) (any, error) {
		var cmd wire.CreateClientCommand
		require.NoError(t, json.Unmarshal(payload, &cmd))
		descriptions := make([]gtypes.ClientDescription, 0, cmd.Num)
		for i := 0; i < cmd.Num; i++ {
			desc := gtypes.ClientDescription{
				ClientId: fmt.Sprintf("%s:%s:%d", host, cmd.Config.Service, seq),
				WorkerId: host,
				Config:   cmd.Config,
			}
			seq++
			require.NoError(t, c.RegisterClient(context.Background(), desc))
			descriptions = append(descriptions, desc)
		}
		return descriptions, nil
	})
	time.Sleep(30 * time.Millisecond)
}

func TestNewClientGroup_SpawnsClientsPerHostOnEveryMatchingWorker(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "w1", nil))
	require.NoError(t, c.RegisterWorker(ctx, "w2", nil))
	serveCreateClient(t, c, "w1")
	serveCreateClient(t, c, "w2")

	cfg := gtypes.ClientConfig{Service: "svc"}
	group, err := NewClientGroup(ctx, c, cfg, 3)
	require.NoError(t, err)

	// clients-per-host is a per-worker multiplier: 2 workers * 3 clients = 6,
	// not a best-fit split of 3 total.
	assert.Len(t, group.Clients(), 6)
	assert.Len(t, group.byWorker[0], 3)
	assert.Len(t, group.byWorker[1], 3)
}

func TestNewClientGroup_NoCandidateWorkers(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := NewClientGroup(ctx, c, gtypes.ClientConfig{Service: "svc"}, 2)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestClientGroup_SetRps_SplitsRateAcrossWorkersRoundRobin(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "w1", nil))
	require.NoError(t, c.RegisterWorker(ctx, "w2", nil))
	require.NoError(t, c.RegisterWorker(ctx, "w3", nil))
	serveCreateClient(t, c, "w1")
	serveCreateClient(t, c, "w2")
	serveCreateClient(t, c, "w3")

	cfg := gtypes.ClientConfig{Service: "svc"}
	group, err := NewClientGroup(ctx, c, cfg, 1)
	require.NoError(t, err)
	require.Len(t, group.workers, 3)

	// rates[i%3] += 1 repeated 5 times -> [2, 2, 1] in worker order.
	rates := distributeRate(5, 3)
	assert.Equal(t, []float64{2, 2, 1}, rates)

	received := make(chan gtypes.WorkloadSpec, 8)
	c.bus.Subscribe(wire.TopicSetWorkloadCommand, func(payload json.RawMessage) {
		var cmd wire.SetWorkloadCommand
		require.NoError(t, json.Unmarshal(payload, &cmd))
		received <- cmd.Spec
	})
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, group.SetRps(5))

	byClient := make(map[string]gtypes.WorkloadSpec)
	for i := 0; i < 3; i++ {
		select {
		case spec := <-received:
			byClient[spec.ClientId] = spec
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for SetWorkload commands")
		}
	}

	for i, w := range group.byWorker {
		clientID := w[0].ClientId
		spec, ok := byClient[clientID]
		require.True(t, ok, "no workload command observed for %s", clientID)
		wantInterval := 1.0 / rates[i]
		require.Len(t, spec.Parameters, 1)
		assert.InDelta(t, wantInterval, spec.Parameters[0], 1e-9)
	}
}
