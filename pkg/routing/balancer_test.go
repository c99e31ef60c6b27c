package routing

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-go/pkg/gtypes"
)

type fakeTable struct {
	records map[string]gtypes.RoutingRecord
}

func newFakeTable() *fakeTable { return &fakeTable{records: make(map[string]gtypes.RoutingRecord)} }

func (f *fakeTable) set(service string, hosts []string, weights []int) {
	f.records[service] = gtypes.RoutingRecord{Service: service, Hosts: hosts, Weights: weights}
}

func (f *fakeTable) ListServices(context.Context) ([]string, error) { return nil, nil }

func (f *fakeTable) GetRouting(ctx context.Context, service string) (gtypes.RoutingRecord, error) {
	r, ok := f.records[service]
	if !ok {
		return gtypes.RoutingRecord{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeTable) SetRouting(context.Context, gtypes.RoutingRecord) error { return nil }
func (f *fakeTable) RemoveService(context.Context, string) error           { return nil }
func (f *fakeTable) Clear(context.Context) error                          { return nil }

func TestStaticBalancer(t *testing.T) {
	b := &StaticBalancer{Host: "localhost:1234"}
	host, err := b.NextHost(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "localhost:1234", host)
}

func TestWeightedRandomBalancer_AllWeightsZero(t *testing.T) {
	table := newFakeTable()
	table.set("svc", []string{"a", "b"}, []int{0, 0})
	b := &WeightedRandomBalancer{Table: table, Rand: rand.New(rand.NewSource(1))}
	_, err := b.NextHost(context.Background(), "svc")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWeightedRandomBalancer_PicksOnlyNonZeroHost(t *testing.T) {
	table := newFakeTable()
	table.set("svc", []string{"a", "b"}, []int{0, 5})
	b := &WeightedRandomBalancer{Table: table, Rand: rand.New(rand.NewSource(1))}
	for i := 0; i < 20; i++ {
		host, err := b.NextHost(context.Background(), "svc")
		require.NoError(t, err)
		assert.Equal(t, "b", host)
	}
}

func TestWeightedRoundRobinBalancer_MatchesLVSDistribution(t *testing.T) {
	table := newFakeTable()
	table.set("svc", []string{"a", "b", "c"}, []int{4, 2, 1})
	b := NewWeightedRoundRobinBalancer(table)

	counts := map[string]int{}
	const rounds = 7 * 10 // gcd(4,2,1)=1, cycle length = sum of weights = 7
	for i := 0; i < rounds; i++ {
		host, err := b.NextHost(context.Background(), "svc")
		require.NoError(t, err)
		counts[host]++
	}
	// Over many full cycles, shares should match weights proportionally.
	assert.InDelta(t, 4.0/7.0, float64(counts["a"])/float64(rounds), 0.05)
	assert.InDelta(t, 2.0/7.0, float64(counts["b"])/float64(rounds), 0.05)
	assert.InDelta(t, 1.0/7.0, float64(counts["c"])/float64(rounds), 0.05)
}

func TestWeightedRoundRobinBalancer_AllWeightsZero(t *testing.T) {
	table := newFakeTable()
	table.set("svc", []string{"a", "b"}, []int{0, 0})
	b := NewWeightedRoundRobinBalancer(table)
	_, err := b.NextHost(context.Background(), "svc")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGcdAll(t *testing.T) {
	assert.Equal(t, 1, gcdAll([]int{4, 2, 1}))
	assert.Equal(t, 2, gcdAll([]int{4, 2, 6}))
}
