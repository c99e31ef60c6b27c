package cluster

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-go/pkg/eventbus"
	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/substrate"
)

// TestPackByMinimumLoad_S2Skew hand-verifies the placement scenario: workers
// a,b,c at current loads [5,2,1] receiving 5 new clients pack to {b:2, c:3}.
func TestPackByMinimumLoad_S2Skew(t *testing.T) {
	placement := packByMinimumLoad([]int{5, 2, 1}, 5)
	assert.Equal(t, []int{0, 2, 3}, placement)
}

func TestPackByMinimumLoad_EvenStart(t *testing.T) {
	placement := packByMinimumLoad([]int{0, 0, 0}, 6)
	assert.Equal(t, []int{2, 2, 2}, placement)
}

func TestPackByMinimumLoad_ZeroRequested(t *testing.T) {
	placement := packByMinimumLoad([]int{3, 1}, 0)
	assert.Equal(t, []int{0, 0}, placement)
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	sub, err := substrate.New(&substrate.Options{Host: mr.Host(), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	bus := eventbus.Init(sub)
	t.Cleanup(bus.Shutdown)

	return New(sub, bus)
}

func TestController_RegisterAndListWorkers(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "w1", map[string]string{"zone": "a"}))
	require.NoError(t, c.RegisterWorker(ctx, "w2", map[string]string{"zone": "b"}))

	workers, err := c.ListWorkers(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w1", "w2"}, workers)

	infos, err := c.ListWorkersInfo(ctx, "")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestController_RegisterWorker_Idempotent(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "w1", map[string]string{"zone": "a"}))
	require.NoError(t, c.RegisterWorker(ctx, "w1", map[string]string{"zone": "a"}))

	workers, err := c.ListWorkers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, workers)
}

func TestController_ListWorkers_Pattern(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "worker-a", nil))
	require.NoError(t, c.RegisterWorker(ctx, "worker-b", nil))
	require.NoError(t, c.RegisterWorker(ctx, "other", nil))

	matched, err := c.ListWorkers(ctx, "worker-.*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker-a", "worker-b"}, matched)

	_, err = c.ListWorkers(ctx, "(")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestController_RegisterUnregisterClient(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "w1", nil))
	desc := gtypes.ClientDescription{ClientId: "w1:svc:0", WorkerId: "w1", Config: gtypes.ClientConfig{Service: "svc"}}
	require.NoError(t, c.RegisterClient(ctx, desc))

	clients, err := c.ListClients(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, desc, clients[0])

	require.NoError(t, c.UnregisterClient(ctx, desc.ClientId))
	clients, err = c.ListClients(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestController_UnregisterWorker_ClearsClientSet(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "w1", nil))
	desc := gtypes.ClientDescription{ClientId: "w1:svc:0", WorkerId: "w1", Config: gtypes.ClientConfig{Service: "svc"}}
	require.NoError(t, c.RegisterClient(ctx, desc))

	require.NoError(t, c.UnregisterWorker(ctx, "w1"))

	workers, err := c.ListWorkers(ctx, "")
	require.NoError(t, err)
	assert.NotContains(t, workers, "w1")

	clients, err := c.ListClients(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestController_CandidateWorkers_LabelFilter(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterWorker(ctx, "gpu-1", map[string]string{"gpu": "true"}))
	require.NoError(t, c.RegisterWorker(ctx, "cpu-1", map[string]string{"gpu": "false"}))

	candidates, err := c.candidateWorkers(ctx, map[string]string{"gpu": "true"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gpu-1"}, candidates)
}
