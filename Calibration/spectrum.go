package Calibration

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// SpectrumAnalyzer 用于频谱分析和峰值检测。
// 校准时用它在空闲段里找工频干扰 (50/60 Hz 及其谐波)，只作诊断参考。
type SpectrumAnalyzer struct {
	SampleRate float64
	FFTSize    int
	Window     []float64
}

// NewSpectrumAnalyzer 创建新的频谱分析器 (汉宁窗)
func NewSpectrumAnalyzer(sampleRate float64, fftSize int) *SpectrumAnalyzer {
	return &SpectrumAnalyzer{
		SampleRate: sampleRate,
		FFTSize:    fftSize,
		Window:     window.Hann(fftSize),
	}
}

// FindDominantFrequency 计算一段数据的主频
// 返回主频 (Hz) 和对应的幅度，数据不足一帧时返回 0, 0
// minFreq, maxFreq: 限制搜索范围
func (sa *SpectrumAnalyzer) FindDominantFrequency(samples []float64, minFreq, maxFreq float64) (float64, float64) {
	if len(samples) < sa.FFTSize || sa.FFTSize < 4 {
		return 0, 0
	}

	// 1. 去直流并加窗
	var mean float64
	for i := 0; i < sa.FFTSize; i++ {
		mean += samples[i]
	}
	mean /= float64(sa.FFTSize)

	input := make([]complex128, sa.FFTSize)
	for i := 0; i < sa.FFTSize; i++ {
		input[i] = complex((samples[i]-mean)*sa.Window[i], 0)
	}

	// 2. 执行 FFT
	spectrum := fft.FFT(input)

	// 3. 寻找幅度最大的频率分量
	binWidth := sa.SampleRate / float64(sa.FFTSize)
	startIndex := max(int(minFreq/binWidth), 1)
	endIndex := min(int(maxFreq/binWidth)+1, len(spectrum)/2)

	mags := make([]float64, len(spectrum)/2+1)
	maxMag := 0.0
	maxIndex := 0
	for i := startIndex; i < endIndex; i++ {
		mag := cmplx.Abs(spectrum[i])
		mags[i] = mag
		if mag > maxMag {
			maxMag = mag
			maxIndex = i
		}
	}
	if maxIndex == 0 {
		return 0, 0
	}

	// 4. 抛物线插值
	// p = 0.5 * (alpha - gamma) / (alpha - 2*beta + gamma)
	freq := float64(maxIndex) * binWidth
	if maxIndex > 0 && maxIndex < len(mags)-1 {
		alpha := mags[maxIndex-1]
		beta := mags[maxIndex]
		gamma := mags[maxIndex+1]
		if maxIndex-1 >= startIndex && maxIndex+1 < endIndex {
			if denom := alpha - 2*beta + gamma; denom != 0 {
				p := 0.5 * (alpha - gamma) / denom
				freq = (float64(maxIndex) + p) * binWidth
			}
		}
	}

	return freq, maxMag
}

// HumFrequency 在空闲采样里估计工频干扰频率。
// 取不超过 8192 的最大 2 的幂作为帧长，空闲数据不足 256 个采样时返回 0。
func HumFrequency(idle []float64, sampleRate int) float64 {
	size := 8192
	for size > len(idle) {
		size /= 2
	}
	if size < 256 {
		return 0
	}
	sa := NewSpectrumAnalyzer(float64(sampleRate), size)
	maxFreq := min(1000, float64(sampleRate)/2)
	freq, mag := sa.FindDominantFrequency(idle, 40, maxFreq)
	if mag == 0 {
		return 0
	}
	return freq
}
