package Calibration

import (
	"fmt"
	"math"

	"switchkey/Detection"
)

// Result 是一次自动校准的输出，构造之后不再修改
type Result struct {
	Events          []int            `json:"events" yaml:"events"`
	Config          Detection.Config `json:"config" yaml:"config"`
	Target          int              `json:"target" yaml:"target"`                     // 用于匹配的目标次数，目标未知时为扫描得到的稳定次数
	RequestedTarget int              `json:"requested_target" yaml:"requested_target"` // 调用者给出的目标，<= 0 表示未知
	Depth           float64          `json:"depth" yaml:"depth"`
	NoiseFloor      float64          `json:"noise_floor" yaml:"noise_floor"`
	Replays         int              `json:"replays" yaml:"replays"` // 实际执行的回放次数 (不含缓存命中)

	Diagnostics `yaml:",inline"`
}

// Count 返回检测到的按下次数
func (r *Result) Count() int {
	return len(r.Events)
}

// Exact 判断是否正好复现了目标次数
func (r *Result) Exact() bool {
	return r.Target > 0 && len(r.Events) == r.Target
}

func (r *Result) String() string {
	minGap := "inf"
	if !math.IsInf(r.MinGap, 1) {
		minGap = fmt.Sprintf("%.3fs", r.MinGap)
	}
	return fmt.Sprintf("presses=%d/%d upper=%.4f lower=%.4f debounce=%dms block=%d baseline_std=%.5f depth_med=%.4f min_gap=%s calib_ok=%t",
		len(r.Events), r.Target, r.Config.UpperOffset, r.Config.LowerOffset, r.Config.DebounceMs,
		r.Config.BlockSize, r.BaselineStd, r.DepthMedian, minGap, r.CalibOK)
}
