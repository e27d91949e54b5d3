package Calibration

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	idleGuardMs       = 50   // 每次按下前后排除的窗口，也是判定松开所需的稳定时长
	maxReleaseSec     = 2.0  // 找松开点时最多往后看多久
	depthToNoiseRatio = 3.0  // depth_med 必须大于 3 倍 baseline_std
	countTolerance    = 0.10 // 次数允许的相对误差
)

// Diagnostics 给一次校准结果打分
type Diagnostics struct {
	BaselineStd float64 `json:"baseline_std" yaml:"baseline_std"` // 空闲段残差的标准差，没有空闲段时为 NaN
	MinGap      float64 `json:"min_gap" yaml:"min_gap"`           // 相邻按下的最小间隔 (秒)，少于两次时为 +Inf
	DepthMedian float64 `json:"depth_med" yaml:"depth_med"`       // 每次按下的谷深中位数，没有按下时为 NaN
	IdleSamples int     `json:"idle_samples" yaml:"idle_samples"`
	HumHz       float64 `json:"hum_hz" yaml:"hum_hz"` // 空闲段主频，0 表示未知
	CalibOK     bool    `json:"calib_ok" yaml:"calib_ok"`
}

// Diagnose 计算诊断指标。
// baseline 为 nil 时重新估计滚动基线；upperOffset 用来判断每次按下何时松开。
func Diagnose(samples []float32, sampleRate int, baseline []float64, events []int, target int, upperOffset float64) Diagnostics {
	n := len(samples)
	if len(baseline) != n {
		baseline = RollingBaseline(samples, sampleRate)
	}
	residual := make([]float64, n)
	for i, v := range samples {
		residual[i] = float64(v) - baseline[i]
	}

	guard := idleGuardMs * sampleRate / 1000
	settle := max(guard, 1)
	maxRelease := int(maxReleaseSec * float64(sampleRate))

	// 1. 空闲掩码和每次按下的谷深
	idle := make([]bool, n)
	for i := range idle {
		idle[i] = true
	}
	var depths []float64
	for _, e := range events {
		if e < 0 || e >= n {
			continue
		}
		release := releaseAfter(residual, e, min(e+maxRelease, n), upperOffset, settle)

		lowest := residual[e]
		for i := e; i < release && i < n; i++ {
			lowest = math.Min(lowest, residual[i])
		}
		depths = append(depths, -lowest)

		for i := max(e-guard, 0); i < min(release+guard, n); i++ {
			idle[i] = false
		}
	}

	var idleResidual []float64
	for i, ok := range idle {
		if ok {
			idleResidual = append(idleResidual, residual[i])
		}
	}

	d := Diagnostics{
		BaselineStd: math.NaN(),
		MinGap:      math.Inf(1),
		DepthMedian: median(depths),
		IdleSamples: len(idleResidual),
	}
	switch len(idleResidual) {
	case 0:
	case 1:
		d.BaselineStd = 0
	default:
		d.BaselineStd = stat.PopStdDev(idleResidual, nil)
	}

	for i := 1; i < len(events); i++ {
		gap := float64(events[i]-events[i-1]) / float64(sampleRate)
		d.MinGap = math.Min(d.MinGap, gap)
	}

	d.HumHz = HumFrequency(longestRun(residual, idle), sampleRate)

	d.CalibOK = d.IdleSamples > 0 &&
		d.DepthMedian > depthToNoiseRatio*d.BaselineStd &&
		math.Abs(float64(len(events)-target)) <= countTolerance*float64(target)
	return d
}

// releaseAfter 找按下 e 之后的松开点: 残差连续 settle 个采样回到 upperOffset 之上的起点。
// 触点抖动的短暂回弹不算松开。到 limit 仍未稳定时，取末尾那段回弹的起点，没有则为 limit。
func releaseAfter(residual []float64, e, limit int, upperOffset float64, settle int) int {
	runStart := -1
	for i := e + 1; i < limit; i++ {
		if residual[i] < upperOffset {
			runStart = -1
			continue
		}
		if runStart < 0 {
			runStart = i
		}
		if i-runStart+1 >= settle {
			return runStart
		}
	}
	if runStart >= 0 {
		return runStart
	}
	return max(limit, e+1)
}

// longestRun 返回掩码中最长的连续空闲段
func longestRun(values []float64, mask []bool) []float64 {
	bestStart, bestLen := 0, 0
	start := -1
	for i := 0; i <= len(mask); i++ {
		if i < len(mask) && mask[i] {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start > bestLen {
			bestStart, bestLen = start, i-start
		}
		start = -1
	}
	return values[bestStart : bestStart+bestLen]
}
