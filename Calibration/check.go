package Calibration

import (
	"fmt"
	"sort"

	"switchkey/Detection"
)

const (
	// ReferenceDebounceMs 是复核时参考回放用的去抖时间，足够短，几乎不会漏掉真实按下
	ReferenceDebounceMs = 8
	// ReferenceBlockSize 是参考回放的块大小。每块最多报一次按下，块太大会吞掉抖动造成的重复触发。
	ReferenceBlockSize = 64
)

// CheckReport 把一份检测器配置在录音上的表现和细粒度参考回放做对比
type CheckReport struct {
	Events     []int   `json:"events" yaml:"events"`
	Reference  []int   `json:"reference" yaml:"reference"`
	Matched    int     `json:"matched" yaml:"matched"` // 在参考里找得到对应的事件数
	Precision  float64 `json:"precision" yaml:"precision"`
	Recall     float64 `json:"recall" yaml:"recall"`
	Duplicates bool    `json:"duplicates" yaml:"duplicates"` // 是否有两次按下的间隔小于去抖窗口
}

func (r CheckReport) String() string {
	return fmt.Sprintf("events=%d reference=%d precision=%.3f recall=%.3f duplicates=%t",
		len(r.Events), len(r.Reference), r.Precision, r.Recall, r.Duplicates)
}

// Check 用 cfg 回放录音，再用同样的阈值和 ReferenceDebounceMs 做一次参考回放。
// 一个事件在参考里 debounce 窗口内找得到对应点就算命中；
// 参考里的抖动重复会拉低 recall，这正是要暴露的问题。
func Check(samples []float32, cfg Detection.Config) (CheckReport, error) {
	events, err := Detection.ReplayConfig(samples, cfg)
	if err != nil {
		return CheckReport{}, err
	}
	refDebounce := min(cfg.DebounceMs, ReferenceDebounceMs)
	reference, err := Detection.Replay(samples, cfg.SampleRate, cfg.UpperOffset, cfg.LowerOffset, refDebounce, ReferenceBlockSize)
	if err != nil {
		return CheckReport{}, err
	}

	window := max(Detection.RefractorySamples(cfg.DebounceMs, cfg.SampleRate), 1)
	matched := 0
	for _, e := range events {
		i := sort.SearchInts(reference, e-window)
		if i < len(reference) && reference[i] <= e+window {
			matched++
		}
	}

	rep := CheckReport{
		Events:     events,
		Reference:  reference,
		Matched:    matched,
		Precision:  1,
		Recall:     1,
		Duplicates: Detection.HasDuplicates(events, cfg.DebounceMs, cfg.SampleRate),
	}
	if len(events) > 0 {
		rep.Precision = float64(matched) / float64(len(events))
	}
	if len(reference) > 0 {
		rep.Recall = float64(matched) / float64(len(reference))
	}
	return rep, nil
}
