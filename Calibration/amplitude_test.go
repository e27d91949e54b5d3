package Calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchkey/Simulator"
)

// fourDips: 1 kHz，零基线上 4 个 -0.5、50 个采样长的凹陷，间隔 1000 个采样
func fourDips() []float32 {
	return Simulator.Dips(5000, []int{1000, 2000, 3000, 4000}, 50, 0.5)
}

func TestFindPeaks_Plateau(t *testing.T) {
	assert.Equal(t, []int{2}, FindPeaks([]float64{0, 1, 1, 1, 0}, 1))
	assert.Empty(t, FindPeaks([]float64{0, 1, 1}, 1), "plateau running into the edge is not a peak")
	assert.Empty(t, FindPeaks([]float64{1, 0, 0, 0}, 1))
}

func TestFindPeaks_Distance(t *testing.T) {
	x := []float64{0, 2, 0, 3, 0, 1, 0}
	assert.Equal(t, []int{1, 3, 5}, FindPeaks(x, 1))
	assert.Equal(t, []int{3}, FindPeaks(x, 3))
}

func TestRollingBaseline_Constant(t *testing.T) {
	samples := make([]float32, 3500)
	for i := range samples {
		samples[i] = 0.2
	}
	for _, v := range RollingBaseline(samples, 1000) {
		require.InDelta(t, 0.2, v, 1e-6)
	}
}

func TestRollingBaseline_FollowsDrift(t *testing.T) {
	samples := make([]float32, 4000)
	for i := range samples {
		samples[i] = float32(float64(i) / 1000 * 0.1)
	}
	base := RollingBaseline(samples, 1000)
	assert.InDelta(t, 0.3, base[len(base)-1]-base[0], 1e-4)
	for i := 1; i < len(base); i++ {
		require.GreaterOrEqual(t, base[i], base[i-1]-1e-9)
	}
}

func TestRollingBaseline_IgnoresDips(t *testing.T) {
	for _, v := range RollingBaseline(fourDips(), 1000) {
		require.Equal(t, 0.0, v)
	}
}

func TestAnalyzeAmplitude_FourDips(t *testing.T) {
	a, err := AnalyzeAmplitude(fourDips(), 1000, 4)
	require.NoError(t, err)

	assert.Equal(t, []int{1024, 2024, 3024, 4024}, a.Troughs)
	assert.InDelta(t, 0.5, a.Depth, 1e-9)
	assert.InDelta(t, -0.20, a.UpperOffset, 1e-9)
	assert.InDelta(t, -0.35, a.LowerOffset, 1e-9)
	assert.GreaterOrEqual(t, a.Gap(), 0.25*a.Depth)
	assert.Equal(t, 0.0, a.NoiseFloor)
}

func TestAnalyzeAmplitude_UnknownTargetUsesDeepTroughs(t *testing.T) {
	cfg := Simulator.DefaultSessionConfig(8000)
	session := Simulator.Generate(cfg)

	a, err := AnalyzeAmplitude(session.Samples, 8000, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, a.Depth, 0.05)
	assert.Less(t, a.LowerOffset, a.UpperOffset)
}

func TestAnalyzeAmplitude_NoiseFloor(t *testing.T) {
	a, err := AnalyzeAmplitude(Simulator.Noise(1000, 0.01, 0), 1000, 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, a.NoiseSigma, 0.003)
	assert.LessOrEqual(t, a.UpperOffset, -a.NoiseFloor+1e-12)
	assert.Less(t, a.LowerOffset, a.UpperOffset)
}

func TestAnalyzeAmplitude_FlatSignalFallsBackToDefaults(t *testing.T) {
	a, err := AnalyzeAmplitude(make([]float32, 2000), 1000, 3)
	require.NoError(t, err)
	assert.Equal(t, -0.2, a.UpperOffset)
	assert.Equal(t, -0.5, a.LowerOffset)
}

func TestAnalyzeAmplitude_EmptyClip(t *testing.T) {
	_, err := AnalyzeAmplitude(nil, 1000, 4)
	assert.ErrorIs(t, err, ErrEmptyClip)
}
