package generator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-go/pkg/gtypes"
)

func TestGenerator_FiniteWorkloadEmitsExactlyNAndOneDone(t *testing.T) {
	g := New(func() int { return 1 })
	out := make(chan Output[int], 16)
	go g.Run(out)

	num := 3
	require.NoError(t, g.SetWorkload(gtypes.WorkloadSpec{Distribution: "constant", Parameters: []float64{0}, Num: &num}))

	values := 0
	dones := 0
	for i := 0; i < 4; i++ {
		select {
		case o := <-out:
			if o.Done {
				dones++
			} else {
				values++
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for generator output")
		}
	}
	assert.Equal(t, 3, values)
	assert.Equal(t, 1, dones)

	g.Close()
}

func TestGenerator_NumZeroCompletesImmediately(t *testing.T) {
	g := New(func() int { return 1 })
	out := make(chan Output[int], 4)
	go g.Run(out)

	num := 0
	require.NoError(t, g.SetWorkload(gtypes.WorkloadSpec{Distribution: "constant", Parameters: []float64{0}, Num: &num}))

	select {
	case o := <-out:
		assert.True(t, o.Done)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DONE sentinel")
	}

	g.Close()
}

func TestGenerator_PauseBlocksUntilNewWorkload(t *testing.T) {
	g := New(func() int { return 1 })
	out := make(chan Output[int], 4)
	go g.Run(out)

	num := 1
	require.NoError(t, g.SetWorkload(gtypes.WorkloadSpec{Distribution: "constant", Parameters: []float64{0}, Num: &num}))
	<-out // the one value
	<-out // DONE

	g.Pause()

	select {
	case <-out:
		t.Fatal("generator emitted after pause with no workload set")
	case <-time.After(50 * time.Millisecond):
	}

	num = 1
	require.NoError(t, g.SetWorkload(gtypes.WorkloadSpec{Distribution: "constant", Parameters: []float64{0}, Num: &num}))
	select {
	case o := <-out:
		assert.False(t, o.Done)
	case <-time.After(time.Second):
		t.Fatal("generator never resumed after new workload")
	}

	g.Close()
}

func TestGenerator_CloseUnblocksRun(t *testing.T) {
	g := New(func() int { return 1 })
	out := make(chan Output[int], 1)
	done := make(chan struct{})
	go func() {
		g.Run(out)
		close(done)
	}()

	g.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestGenerator_SetWorkload_InvalidDistribution(t *testing.T) {
	g := New(func() int { return 1 })
	err := g.SetWorkload(gtypes.WorkloadSpec{Distribution: "nonexistent"})
	require.Error(t, err)
}
