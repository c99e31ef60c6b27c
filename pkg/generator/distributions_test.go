package generator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampler_Constant(t *testing.T) {
	s, err := NewSampler("constant", []float64{0.5})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	assert.Equal(t, 0.5, s(r))
	assert.Equal(t, 0.5, s(r))
}

func TestNewSampler_UnknownDistribution(t *testing.T) {
	_, err := NewSampler("not-a-distribution", nil)
	require.Error(t, err)
	var invalid *ErrInvalidDistribution
	assert.ErrorAs(t, err, &invalid)
}

func TestNewSampler_WrongArity(t *testing.T) {
	_, err := NewSampler("uniform", []float64{1})
	require.Error(t, err)
	var invalid *ErrInvalidDistribution
	assert.ErrorAs(t, err, &invalid)
}

func TestNewSampler_UniformBounds(t *testing.T) {
	s, err := NewSampler("uniform", []float64{1, 2})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		v := s(r)
		assert.GreaterOrEqual(t, v, 1.0)
		assert.LessOrEqual(t, v, 2.0)
	}
}

func TestNewSampler_ExpovariatePositive(t *testing.T) {
	s, err := NewSampler("expovariate", []float64{2})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, s(r), 0.0)
	}
}

func TestNewSampler_GammaPositive(t *testing.T) {
	s, err := NewSampler("gammavariate", []float64{2, 3})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		assert.Greater(t, s(r), 0.0)
	}
}

func TestNewSampler_BetaBounds(t *testing.T) {
	s, err := NewSampler("betavariate", []float64{2, 2})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		v := s(r)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestNewSampler_TriangularBounds(t *testing.T) {
	s, err := NewSampler("triangular", []float64{0, 10, 5})
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		v := s(r)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 10.0)
	}
}
