package Calibration

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"switchkey/Detection"
)

// ErrEmptyClip 校准录音为空
var ErrEmptyClip = errors.New("calibration clip is empty")

const (
	baselinePercentile = 0.80 // 空闲电平: 高位 20% 处的值
	baselineSegmentSec = 1.0  // 滚动基线的分段长度
	troughDistanceMs   = 20   // 两个谷之间的最小距离
	upperDepthRatio    = 0.40 // 初始上阈值 = -0.40 * depth
	lowerDepthRatio    = 0.70 // 初始下阈值 = -0.70 * depth
	minGapDepthRatio   = 0.25 // 迟滞带最小宽度
	madToSigma         = 1.4826
	noiseFloorSigmas   = 3.0
)

// Amplitude 是对一段校准录音的幅度分析结果
type Amplitude struct {
	Baseline []float64 // 每个采样处的滚动基线
	Residual []float64 // 原始信号 - 基线
	Troughs  []int     // 谷的位置 (采样下标)

	Depth      float64 // 谷深 (基线之下，正数)
	NoiseSigma float64 // 残差的稳健标准差 1.4826*MAD
	NoiseFloor float64 // 上阈值不能高于 -NoiseFloor

	UpperOffset float64
	LowerOffset float64
}

// Gap 返回迟滞带宽度
func (a *Amplitude) Gap() float64 {
	return a.UpperOffset - a.LowerOffset
}

// AnalyzeAmplitude 估计基线、定位谷，并给出初始阈值。
// target > 0 时只取最深的 target 个谷计算谷深。
func AnalyzeAmplitude(samples []float32, sampleRate int, target int) (*Amplitude, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyClip
	}
	if sampleRate <= 0 {
		return nil, Detection.ErrConfig
	}

	// 1. 滚动基线和残差
	baseline := RollingBaseline(samples, sampleRate)
	residual := make([]float64, len(samples))
	negated := make([]float64, len(samples))
	for i, v := range samples {
		residual[i] = float64(v) - baseline[i]
		negated[i] = -residual[i]
	}

	// 2. 稳健噪声估计
	sigma := madToSigma * mad(residual)
	floor := noiseFloorSigmas * sigma

	// 3. 在取反的残差上找峰 (即原信号的谷)
	distance := max(troughDistanceMs*sampleRate/1000, 1)
	troughs := FindPeaks(negated, distance)

	a := &Amplitude{
		Baseline:   baseline,
		Residual:   residual,
		Troughs:    troughs,
		NoiseSigma: sigma,
		NoiseFloor: floor,
	}
	a.Depth = troughDepth(negated, troughs, target)

	if !(a.Depth > 0) {
		a.UpperOffset = Detection.DefaultUpperOffset
		a.LowerOffset = Detection.DefaultLowerOffset
		return a, nil
	}

	// 4. 初始阈值
	upper := -upperDepthRatio * a.Depth
	lower := -lowerDepthRatio * a.Depth
	minGap := minGapDepthRatio * a.Depth
	if upper-lower < minGap {
		lower = upper - minGap
	}
	gap := upper - lower
	if upper > -floor {
		upper = -floor
		lower = upper - gap
	}
	a.UpperOffset = upper
	a.LowerOffset = lower
	return a, nil
}

// troughDepth 是谷深的中位数。
// 已知目标次数时取最深的 target 个；否则取深度不小于最深谷一半的那些。
func troughDepth(negated []float64, troughs []int, target int) float64 {
	if len(troughs) == 0 {
		return 0
	}
	depths := make([]float64, len(troughs))
	for i, t := range troughs {
		depths[i] = negated[t]
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(depths)))

	var chosen []float64
	if target > 0 && len(depths) >= target {
		chosen = depths[:target]
	} else {
		limit := depths[0] / 2
		for _, d := range depths {
			if d < limit {
				break
			}
			chosen = append(chosen, d)
		}
	}
	return median(chosen)
}

// RollingBaseline 按约 1 秒分段取 80 分位，在段中心之间线性插值。
// 电平缓慢漂移时基线跟得上，按下的低电平只要不超过每段的 80% 就不会影响它。
func RollingBaseline(samples []float32, sampleRate int) []float64 {
	n := len(samples)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	segLen := max(int(baselineSegmentSec*float64(sampleRate)), 1)
	type segment struct {
		center float64
		level  float64
	}
	var segs []segment
	for start := 0; start < n; start += segLen {
		end := min(start+segLen, n)
		// 太短的尾段并入前一段
		if end == n && len(segs) > 0 && end-start < segLen/2 {
			prevStart := start - segLen
			segs[len(segs)-1] = segment{
				center: float64(prevStart+n-1) / 2,
				level:  percentile(samples[prevStart:n], baselinePercentile),
			}
			break
		}
		segs = append(segs, segment{
			center: float64(start+end-1) / 2,
			level:  percentile(samples[start:end], baselinePercentile),
		})
	}

	k := 0
	for i := range out {
		x := float64(i)
		switch {
		case x <= segs[0].center:
			out[i] = segs[0].level
		case x >= segs[len(segs)-1].center:
			out[i] = segs[len(segs)-1].level
		default:
			for k+1 < len(segs) && segs[k+1].center < x {
				k++
			}
			a, b := segs[k], segs[k+1]
			t := (x - a.center) / (b.center - a.center)
			out[i] = a.level + t*(b.level-a.level)
		}
	}
	return out
}

// FindPeaks 找局部最大值。平台 (连续相等的值) 取中点；
// 相距小于 distance 的峰只保留较高的那个，高度相同时保留靠前的。
func FindPeaks(x []float64, distance int) []int {
	n := len(x)
	var peaks []int
	for i := 1; i < n-1; i++ {
		if !(x[i-1] < x[i]) {
			continue
		}
		ahead := i + 1
		for ahead < n-1 && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead - 1
		}
	}
	if distance <= 1 || len(peaks) < 2 {
		return peaks
	}

	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] > x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for _, j := range order {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := peaks[:0]
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

func percentile(samples []float32, p float64) float64 {
	data := make([]float64, len(samples))
	for i, v := range samples {
		data[i] = float64(v)
	}
	sort.Float64s(data)
	return stat.Quantile(p, stat.Empirical, data, nil)
}

// median 会排序一份拷贝，偶数个时取中间两个的平均
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	data := append([]float64(nil), values...)
	sort.Float64s(data)
	if n%2 == 1 {
		return data[n/2]
	}
	return (data[n/2-1] + data[n/2]) / 2
}

// mad 是中位数绝对偏差
func mad(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := median(values)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - m)
	}
	return median(dev)
}
