package Simulator

import (
	"math"
	"math/rand"
)

// ============================================================================
// 开关信号模拟器
// 模拟插在电脑麦克风口上的辅助开关: 按下时电平骤降，伴随触点抖动，
// 按住期间保持低电平，松开后按 RC 曲线恢复。
// ============================================================================

// SessionConfig 描述一段模拟录音
type SessionConfig struct {
	SampleRate int
	Presses    int

	LeadMs       float64 // 第一次按下之前的空闲时长
	GapMs        float64 // 松开到下一次按下之间的空闲时长
	GapJitterMs  float64 // 空闲时长的随机抖动 (均匀分布 ±)
	TailMs       float64 // 最后一次按下之后的空闲时长
	HoldMs       float64 // 按住时长
	HoldJitterMs float64

	Depth              float64 // 按下时电平相对空闲电平下降的幅度 (正数)
	BounceMs           float64 // 触点抖动持续时间
	BounceCycleSamples int     // 一次抖动 (低+高) 的采样数
	ReleaseTauMs       float64 // 松开后 RC 恢复的时间常数

	IdleLevel   float64 // 空闲直流电平
	DriftPerSec float64 // 基线漂移 (每秒)
	NoiseStd    float64 // 白噪声标准差
	HumHz       float64 // 工频干扰频率，0 表示没有
	HumAmp      float64
	BandwidthHz float64 // 输入级带宽 (4 阶低通)，0 表示不限制

	Seed int64
}

// DefaultSessionConfig 返回一段干净的 10 次按下的录音参数
func DefaultSessionConfig(sampleRate int) SessionConfig {
	return SessionConfig{
		SampleRate:         sampleRate,
		Presses:            10,
		LeadMs:             300,
		GapMs:              400,
		TailMs:             300,
		HoldMs:             120,
		Depth:              0.6,
		BounceMs:           3,
		BounceCycleSamples: 8,
		ReleaseTauMs:       5,
		NoiseStd:           0.005,
		Seed:               1,
	}
}

// Session 是生成的录音和每次按下的真实起点
type Session struct {
	SampleRate int
	Samples    []float32
	Onsets     []int
}

// Generate 按配置生成录音，相同配置 (包括 Seed) 总是得到相同的波形
func Generate(cfg SessionConfig) Session {
	fs := float64(cfg.SampleRate)
	rng := rand.New(rand.NewSource(cfg.Seed))
	toSamples := func(ms float64) int {
		if ms <= 0 {
			return 0
		}
		return int(ms / 1000 * fs)
	}
	jitter := func(ms, j float64) float64 {
		if j <= 0 {
			return ms
		}
		return math.Max(0, ms+(rng.Float64()*2-1)*j)
	}

	// 1. 先生成相对空闲电平的开关包络
	var env []float64
	appendIdle := func(n int) {
		env = append(env, make([]float64, n)...)
	}
	var onsets []int

	appendIdle(toSamples(cfg.LeadMs))
	for p := 0; p < cfg.Presses; p++ {
		onsets = append(onsets, len(env))
		low := -cfg.Depth

		// 触点抖动: 低/高交替，从低开始
		bounce := toSamples(cfg.BounceMs)
		half := max(cfg.BounceCycleSamples/2, 1)
		for i := 0; i < bounce; i++ {
			if (i/half)%2 == 0 {
				env = append(env, low)
			} else {
				env = append(env, 0)
			}
		}

		// 按住
		hold := toSamples(jitter(cfg.HoldMs, cfg.HoldJitterMs))
		for i := 0; i < hold; i++ {
			env = append(env, low)
		}

		// RC 恢复
		tau := cfg.ReleaseTauMs / 1000 * fs
		if tau > 0 {
			for i := 0; ; i++ {
				v := low * math.Exp(-float64(i)/tau)
				if math.Abs(v) < 1e-4 || float64(i) > 8*tau {
					break
				}
				env = append(env, v)
			}
		}

		if p < cfg.Presses-1 {
			appendIdle(toSamples(jitter(cfg.GapMs, cfg.GapJitterMs)))
		}
	}
	appendIdle(toSamples(cfg.TailMs))

	// 2. 叠加直流、漂移、工频和噪声
	humInc := 2 * math.Pi * cfg.HumHz / fs
	for i := range env {
		t := float64(i) / fs
		env[i] += cfg.IdleLevel + cfg.DriftPerSec*t
		if cfg.HumHz > 0 && cfg.HumAmp > 0 {
			env[i] += cfg.HumAmp * math.Sin(humInc*float64(i))
		}
		if cfg.NoiseStd > 0 {
			env[i] += rng.NormFloat64() * cfg.NoiseStd
		}
	}

	// 3. 输入级带宽
	if cfg.BandwidthHz > 0 && len(env) > 0 {
		lp := NewLowpass(4, fs, cfg.BandwidthHz)
		// 用第一个采样预热，避免开头的阶跃
		for i := 0; i < 8*int(fs/cfg.BandwidthHz)+64; i++ {
			lp.Process(env[0])
		}
		lp.Apply(env)
	}

	out := make([]float32, len(env))
	for i, v := range env {
		out[i] = float32(clip(v))
	}

	return Session{SampleRate: cfg.SampleRate, Samples: out, Onsets: onsets}
}

// Noise 生成纯高斯白噪声
func Noise(n int, std float64, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64() * std)
	}
	return out
}

// Dips 生成零基线上的矩形凹陷: 每个起点处连续 length 个采样为 -depth
func Dips(n int, starts []int, length int, depth float64) []float32 {
	out := make([]float32, n)
	for _, s := range starts {
		for i := s; i < s+length && i < n; i++ {
			if i >= 0 {
				out[i] = float32(-depth)
			}
		}
	}
	return out
}

// AddNoise 在已有波形上叠加高斯噪声，返回新的切片
func AddNoise(samples []float32, std float64, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(clip(float64(v) + rng.NormFloat64()*std))
	}
	return out
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Blocks 把录音切成固定大小的块，模拟音频回调
func Blocks(samples []float32, blockSize int) [][]float32 {
	if blockSize <= 0 {
		return nil
	}
	var out [][]float32
	for start := 0; start < len(samples); start += blockSize {
		end := min(start+blockSize, len(samples))
		out = append(out, samples[start:end])
	}
	return out
}
