package Simulator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stddev(x []float64) float64 {
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	var ss float64
	for _, v := range x {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(x)))
}

func TestGenerate_Deterministic(t *testing.T) {
	cfg := DefaultSessionConfig(8000)
	a := Generate(cfg)
	b := Generate(cfg)
	assert.Equal(t, a.Samples, b.Samples)
	require.Len(t, a.Onsets, 10)

	for _, on := range a.Onsets {
		assert.Less(t, a.Samples[on], float32(-0.5), "level drops at onset %d", on)
	}
	assert.InDelta(t, 0, a.Samples[len(a.Samples)-1], 0.05)

	cfg.Seed = 2
	assert.NotEqual(t, a.Samples, Generate(cfg).Samples)
}

func TestGenerate_Bandwidth(t *testing.T) {
	cfg := DefaultSessionConfig(8000)
	cfg.NoiseStd = 0.05
	wide := Generate(cfg)
	cfg.BandwidthHz = 500
	narrow := Generate(cfg)

	require.Equal(t, len(wide.Samples), len(narrow.Samples))
	lead := len(wide.Samples[:wide.Onsets[0]])
	toF64 := func(x []float32) []float64 {
		out := make([]float64, len(x))
		for i, v := range x {
			out[i] = float64(v)
		}
		return out
	}
	assert.Less(t, stddev(toF64(narrow.Samples[:lead])), stddev(toF64(wide.Samples[:lead]))/2)
}

func TestLowpass_UnityDCGain(t *testing.T) {
	lp := NewLowpass(4, 8000, 1000)
	var out float64
	for i := 0; i < 2000; i++ {
		out = lp.Process(0.3)
	}
	assert.InDelta(t, 0.3, out, 1e-6)

	// 奇数阶向上取偶
	assert.Len(t, NewLowpass(3, 8000, 1000).sections, 2)
}

func TestLowpass_AttenuatesAboveCutoff(t *testing.T) {
	fs := 8000.0
	tone := func(hz float64) []float64 {
		x := make([]float64, 4000)
		for i := range x {
			x[i] = math.Sin(2 * math.Pi * hz * float64(i) / fs)
		}
		return x
	}

	low := tone(100)
	NewLowpass(4, fs, 500).Apply(low)
	high := tone(2500)
	NewLowpass(4, fs, 500).Apply(high)

	assert.InDelta(t, 1/math.Sqrt2, stddev(low[1000:]), 0.05)
	assert.Less(t, stddev(high[1000:]), 0.01)
}

func TestBlocks(t *testing.T) {
	b := Blocks(make([]float32, 1000), 256)
	require.Len(t, b, 4)
	assert.Len(t, b[3], 1000-3*256)
	assert.Nil(t, Blocks(make([]float32, 10), 0))
}
