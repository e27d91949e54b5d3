package Detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchkey/Simulator"
)

func TestReplay_Deterministic(t *testing.T) {
	cfg := Simulator.DefaultSessionConfig(8000)
	cfg.NoiseStd = 0.02
	session := Simulator.Generate(cfg)

	first, err := Replay(session.Samples, 8000, -0.2, -0.5, 40, 64)
	require.NoError(t, err)
	second, err := Replay(session.Samples, 8000, -0.2, -0.5, 40, 64)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, session.Onsets, first)
}

func TestReplay_BlockSizeDoesNotChangeCleanCount(t *testing.T) {
	session := Simulator.Generate(Simulator.DefaultSessionConfig(8000))
	for _, bs := range []int{32, 64, 128, 256, 512} {
		events, err := Replay(session.Samples, 8000, -0.2, -0.5, 40, bs)
		require.NoError(t, err)
		assert.Len(t, events, 10, "blocksize %d", bs)
	}
}

func TestReplay_NoDoubleFire(t *testing.T) {
	cfg := Simulator.DefaultSessionConfig(8000)
	cfg.BounceMs = 15
	cfg.NoiseStd = 0.03
	session := Simulator.Generate(cfg)

	for _, debounce := range []int{5, 10, 20, 40, 80} {
		events, err := Replay(session.Samples, 8000, -0.2, -0.5, debounce, 64)
		require.NoError(t, err)
		refractory := RefractorySamples(debounce, 8000)
		for i := 1; i < len(events); i++ {
			assert.Greater(t, events[i]-events[i-1], refractory, "debounce %d", debounce)
		}
		assert.False(t, HasDuplicates(events, debounce, 8000), "debounce %d", debounce)
	}
}

func TestReplay_ValidatesArguments(t *testing.T) {
	samples := filled(100, 0)

	_, err := Replay(samples, 0, -0.2, -0.5, 40, 64)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Replay(samples, 8000, -0.2, -0.5, 40, 0)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Replay(samples, 8000, -0.2, -0.5, -1, 64)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Replay(samples, 8000, -0.5, -0.2, 40, 64)
	assert.ErrorIs(t, err, ErrConfig)

	events, err := Replay(nil, 8000, -0.2, -0.5, 40, 64)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReplayConfig(t *testing.T) {
	session := Simulator.Generate(Simulator.DefaultSessionConfig(8000))
	cfg := DefaultConfig()
	cfg.SampleRate = 8000

	events, err := ReplayConfig(session.Samples, cfg)
	require.NoError(t, err)
	assert.Equal(t, session.Onsets, events)

	cfg.BlockSize = 0
	_, err = ReplayConfig(session.Samples, cfg)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestHasDuplicates(t *testing.T) {
	events := []int{0, 100, 500}
	assert.True(t, HasDuplicates(events, 200, 1000))
	assert.False(t, HasDuplicates(events, 50, 1000))
	assert.False(t, HasDuplicates(nil, 50, 1000))
	assert.False(t, HasDuplicates(events, 50, 0))
}
