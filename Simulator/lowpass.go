package Simulator

import "math"

// biquad 是一个二阶 IIR 节 (转置直接 II 型)
type biquad struct {
	a0, a1, a2, b1, b2 float64
	z1, z2             float64
}

func (f *biquad) process(in float64) float64 {
	out := in*f.a0 + f.z1
	f.z1 = in*f.a1 - out*f.b1 + f.z2
	f.z2 = in*f.a2 - out*f.b2
	return out
}

// Lowpass 是级联 biquad 实现的偶数阶巴特沃斯低通，
// 用来模拟声卡输入级的带宽限制。直流增益为 1。
type Lowpass struct {
	sections []*biquad
}

// NewLowpass 创建 order 阶低通，order 向上取成偶数，截止频率钳在 Nyquist 以下
func NewLowpass(order int, sampleRate, cutoffHz float64) *Lowpass {
	order = max(order+order%2, 2)
	cutoffHz = min(cutoffHz, sampleRate*0.499)

	// 双线性变换前先预畸变
	w := 2 * sampleRate * math.Tan(math.Pi*cutoffHz/sampleRate)
	k2 := 4 * sampleRate * sampleRate

	lp := &Lowpass{sections: make([]*biquad, order/2)}
	for i := range lp.sections {
		// 低 Q 的节放在前面
		pole := order/2 - 1 - i
		theta := math.Pi * (2*float64(pole) + 1) / (2 * float64(order))
		re := -w * math.Sin(theta)
		mag2 := w * w // 极点都在半径 w 的圆上

		alpha := k2 - 4*sampleRate*re + mag2
		lp.sections[i] = &biquad{
			a0: w * w / alpha,
			a1: 2 * w * w / alpha,
			a2: w * w / alpha,
			b1: (2*mag2 - 2*k2) / alpha,
			b2: (k2 + 4*sampleRate*re + mag2) / alpha,
		}
	}
	return lp
}

// Process 处理一个采样
func (lp *Lowpass) Process(in float64) float64 {
	for _, s := range lp.sections {
		in = s.process(in)
	}
	return in
}

// Apply 原地滤波整段波形
func (lp *Lowpass) Apply(samples []float64) {
	for i, v := range samples {
		samples[i] = lp.Process(v)
	}
}
