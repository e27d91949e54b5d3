package Detection

// 基线追踪：对每个块的均值做极慢的指数滑动平均，
// 用来抵消麦克风输入的直流漂移和底噪变化。
// 只有在 armed 状态下才更新，按住开关时的低电平不会把基线拖下去。
const (
	biasDecay = 0.995
	biasGain  = 0.005
)

func trackBias(bias float64, samples []float32) float64 {
	return biasDecay*bias + biasGain*blockMean(samples)
}

func blockMean(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// Thresholds 返回当前基线下的动态迟滞阈值 (施密特触发器的上下门限)
func (s State) Thresholds(p Params) (upper, lower float64) {
	return s.Bias + p.UpperOffset, s.Bias + p.LowerOffset
}
