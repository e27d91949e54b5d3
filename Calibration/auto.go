package Calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"switchkey/Detection"
)

// ErrNotConverged 有界搜索结束时仍未得到目标次数。
// 这是一个警告: 返回的 Result 依然是找到的最好结果，由调用者决定是否采用。
var ErrNotConverged = errors.New("auto calibration did not reach the target press count")

// Options 控制自动校准的搜索空间
type Options struct {
	DebounceMinMs  int
	DebounceMaxMs  int
	DebounceStepMs int

	SearchBlockSize int   // 搜索阶段回放使用的块大小
	BlockSizes      []int // 最后挑选块大小时的候选，从大到小尝试

	MaxBisect  int       // 每条二分轨迹的迭代上限
	GapFactors []float64 // 二分失败后放宽迟滞带的倍数，各自独立搜索

	DedupStepMs int
	DedupCapMs  int

	StableTolerance float64 // 目标未知时判定次数稳定的相对误差

	Workers int // 并行回放的数量上限，<= 0 时使用 CPU 数
	Device  *string
}

// DefaultOptions 返回默认搜索参数
func DefaultOptions() Options {
	return Options{
		DebounceMinMs:   10,
		DebounceMaxMs:   180,
		DebounceStepMs:  10,
		SearchBlockSize: 64,
		BlockSizes:      []int{512, 256, 128, 64},
		MaxBisect:       30,
		GapFactors:      []float64{1.05, 1.10, 1.15},
		DedupStepMs:     5,
		DedupCapMs:      60,
		StableTolerance: 0.02,
	}
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) debounceValues() []int {
	step := max(o.DebounceStepMs, 1)
	var out []int
	for db := o.DebounceMinMs; db <= o.DebounceMaxMs; db += step {
		out = append(out, db)
	}
	if len(out) == 0 {
		out = append(out, Detection.DefaultDebounceMs)
	}
	return out
}

// AutoCalibrator 从一段录音里搜索检测参数，使回放得到的按下次数等于目标次数
type AutoCalibrator struct {
	opts   Options
	logger *slog.Logger
}

func NewAutoCalibrator(opts Options, logger *slog.Logger) *AutoCalibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoCalibrator{opts: opts, logger: logger.With("component", "calibration")}
}

// Calibrate 使用给定参数运行一次自动校准
func Calibrate(ctx context.Context, samples []float32, sampleRate, target int, opts Options) (*Result, error) {
	return NewAutoCalibrator(opts, nil).Calibrate(ctx, samples, sampleRate, target)
}

// candidate 是一组已经回放过的参数
type candidate struct {
	upper    float64
	lower    float64
	debounce int
	count    int
}

func (c candidate) diff(target int) int {
	d := c.count - target
	if d < 0 {
		return -d
	}
	return d
}

// better: 离目标更近，相同时去抖更短
func (c candidate) better(than candidate, target int) bool {
	if c.diff(target) != than.diff(target) {
		return c.diff(target) < than.diff(target)
	}
	return c.debounce < than.debounce
}

// Calibrate 执行完整的搜索流程:
// 幅度分析 -> 去抖扫描 -> 阈值二分 -> 去重 -> 块大小选择 -> 诊断
func (a *AutoCalibrator) Calibrate(ctx context.Context, samples []float32, sampleRate, target int) (*Result, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyClip
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: samplerate must be positive, got %d", Detection.ErrConfig, sampleRate)
	}

	// 1. 幅度分析
	amp, err := AnalyzeAmplitude(samples, sampleRate, target)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("amplitude analysis",
		"depth", amp.Depth, "noise_sigma", amp.NoiseSigma, "troughs", len(amp.Troughs),
		"upper", amp.UpperOffset, "lower", amp.LowerOffset)

	r := &searchRun{
		ctx:     ctx,
		samples: samples,
		fs:      sampleRate,
		opts:    a.opts,
		cache:   newReplayCache(),
	}

	// 2. 去抖扫描
	best, effTarget, err := r.sweepDebounce(amp.UpperOffset, amp.LowerOffset, target)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("debounce sweep", "debounce_ms", best.debounce, "count", best.count, "target", effTarget)

	// 3. 阈值二分
	if best.count != effTarget && effTarget > 0 {
		best, err = r.refine(amp, best, effTarget)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("threshold refinement", "upper", best.upper, "lower", best.lower, "count", best.count)
	}

	// 4. 去重: 不应期已经保证了最小间隔，这里只是兜底
	events, err := r.events(best.upper, best.lower, best.debounce, a.opts.SearchBlockSize)
	if err != nil {
		return nil, err
	}
	for Detection.HasDuplicates(events, best.debounce, sampleRate) && best.debounce < a.opts.DedupCapMs {
		best.debounce = min(best.debounce+max(a.opts.DedupStepMs, 1), a.opts.DedupCapMs)
		if events, err = r.events(best.upper, best.lower, best.debounce, a.opts.SearchBlockSize); err != nil {
			return nil, err
		}
	}
	best.count = len(events)

	// 5. 块大小
	blockSize, err := r.chooseBlockSize(best)
	if err != nil {
		return nil, err
	}

	// 6. 最终回放和诊断
	events, err = r.events(best.upper, best.lower, best.debounce, blockSize)
	if err != nil {
		return nil, err
	}
	diag := Diagnose(samples, sampleRate, amp.Baseline, events, effTarget, best.upper)

	res := &Result{
		Events: events,
		Config: Detection.Config{
			UpperOffset: best.upper,
			LowerOffset: best.lower,
			SampleRate:  sampleRate,
			BlockSize:   blockSize,
			DebounceMs:  best.debounce,
			Device:      a.opts.Device,
		},
		Target:          effTarget,
		RequestedTarget: target,
		Depth:           amp.Depth,
		NoiseFloor:      amp.NoiseFloor,
		Replays:         r.cache.replays(),
		Diagnostics:     diag,
	}

	log := a.logger.Info
	if !diag.CalibOK {
		log = a.logger.Warn
	}
	log("calibration finished",
		"presses", len(events), "target", effTarget,
		"upper", res.Config.UpperOffset, "lower", res.Config.LowerOffset,
		"debounce_ms", res.Config.DebounceMs, "blocksize", blockSize,
		"baseline_std", diag.BaselineStd, "depth_med", diag.DepthMedian,
		"min_gap", diag.MinGap, "calib_ok", diag.CalibOK, "replays", res.Replays)

	if len(events) != effTarget {
		return res, fmt.Errorf("%w: got %d presses, want %d", ErrNotConverged, len(events), effTarget)
	}
	return res, nil
}

// searchRun 持有一次校准的上下文和回放缓存，校准结束后丢弃
type searchRun struct {
	ctx     context.Context
	samples []float32
	fs      int
	opts    Options
	cache   *replayCache
}

func (r *searchRun) events(upper, lower float64, debounce, block int) ([]int, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	return r.cache.get(replayKey{upper: upper, lower: lower, debounce: debounce, block: block}, func() ([]int, error) {
		return Detection.Replay(r.samples, r.fs, upper, lower, debounce, block)
	})
}

func (r *searchRun) count(upper, lower float64, debounce int) (candidate, error) {
	ev, err := r.events(upper, lower, debounce, r.opts.SearchBlockSize)
	if err != nil {
		return candidate{}, err
	}
	return candidate{upper: upper, lower: lower, debounce: debounce, count: len(ev)}, nil
}

// sweepDebounce 并行回放每个候选去抖值，再按顺序挑选。
// 目标未知时，取第一个在后面两档内次数保持稳定的去抖值，它的次数作为目标。
func (r *searchRun) sweepDebounce(upper, lower float64, target int) (candidate, int, error) {
	values := r.opts.debounceValues()
	results := make([]candidate, len(values))

	g, gctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.opts.workers())
	for i, db := range values {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := r.count(upper, lower, db)
			results[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return candidate{}, 0, err
	}

	if target > 0 {
		best := results[0]
		for _, c := range results {
			if c.diff(target) < best.diff(target) {
				best = c
			}
			if c.count == target {
				break
			}
		}
		return best, target, nil
	}

	stable := func(a, b int) bool {
		return math.Abs(float64(a-b)) <= r.opts.StableTolerance*float64(a)
	}
	for i := 0; i+2 < len(results); i++ {
		c := results[i].count
		if stable(c, results[i+1].count) && stable(c, results[i+2].count) {
			return results[i], c, nil
		}
	}

	// 没有稳定区间: 取最接近中位数的次数
	counts := make([]float64, len(results))
	for i, c := range results {
		counts[i] = float64(c.count)
	}
	want := int(math.Round(median(counts)))
	best := results[0]
	for _, c := range results {
		if c.diff(want) < best.diff(want) {
			best = c
		}
	}
	return best, best.count, nil
}

// refine 固定迟滞带宽度二分上阈值；失败时按 GapFactors 放宽宽度，各条轨迹并行搜索
func (r *searchRun) refine(amp *Amplitude, start candidate, target int) (candidate, error) {
	gap := start.upper - start.lower
	best := start

	c, err := r.bisect(r.ctx, amp, gap, start.debounce, target)
	if err != nil {
		return best, err
	}
	if c.better(best, target) {
		best = c
	}
	if best.count == target || len(r.opts.GapFactors) == 0 {
		return best, nil
	}

	results := make([]candidate, len(r.opts.GapFactors))
	g, gctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.opts.workers())
	for i, f := range r.opts.GapFactors {
		g.Go(func() error {
			c, err := r.bisect(gctx, amp, gap*f, start.debounce, target)
			results[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return best, err
	}
	for _, c := range results {
		if c.diff(target) < best.diff(target) {
			best = c
		}
	}
	return best, nil
}

// bisect 在 [-depth+gap, -noiseFloor] 上二分上阈值。
// 次数偏多时把阈值往下移，偏少时往上移。
func (r *searchRun) bisect(ctx context.Context, amp *Amplitude, gap float64, debounce, target int) (candidate, error) {
	hi := -amp.NoiseFloor
	lo := -amp.Depth + gap
	if lo > hi {
		lo = hi
	}
	tol := 1e-3 * math.Max(amp.Depth, 1e-3)

	var best candidate
	found := false
	try := func(upper float64) (candidate, error) {
		if err := ctx.Err(); err != nil {
			return candidate{}, err
		}
		c, err := r.count(upper, upper-gap, debounce)
		if err != nil {
			return c, err
		}
		if !found || c.better(best, target) {
			best, found = c, true
		}
		return c, nil
	}

	for i := 0; i < max(r.opts.MaxBisect, 1) && hi-lo > tol; i++ {
		mid := (lo + hi) / 2
		c, err := try(mid)
		if err != nil {
			return best, err
		}
		if c.count == target {
			return c, nil
		}
		if c.count > target {
			hi = mid
		} else {
			lo = mid
		}
	}
	if !found {
		if _, err := try(hi); err != nil {
			return best, err
		}
	}
	return best, nil
}

// chooseBlockSize 从大到小找第一个能复现同样次数的块大小
func (r *searchRun) chooseBlockSize(c candidate) (int, error) {
	sizes := append([]int(nil), r.opts.BlockSizes...)
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	for _, bs := range sizes {
		if bs <= 0 {
			continue
		}
		ev, err := r.events(c.upper, c.lower, c.debounce, bs)
		if err != nil {
			return 0, err
		}
		if len(ev) == c.count {
			return bs, nil
		}
	}
	return max(r.opts.SearchBlockSize, 1), nil
}

type replayKey struct {
	upper    float64
	lower    float64
	debounce int
	block    int
}

// replayCache 缓存一次校准中的回放结果。回放是纯函数，同样的参数总是得到同样的事件。
type replayCache struct {
	mu      sync.Mutex
	entries map[replayKey][]int
	misses  int
}

func newReplayCache() *replayCache {
	return &replayCache{entries: make(map[replayKey][]int)}
}

func (c *replayCache) get(key replayKey, replay func() ([]int, error)) ([]int, error) {
	c.mu.Lock()
	if ev, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return ev, nil
	}
	c.mu.Unlock()

	// 回放不持锁，并发时同一个键可能被算两次，结果相同
	ev, err := replay()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.misses++
		c.entries[key] = ev
	}
	return c.entries[key], nil
}

func (c *replayCache) replays() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}
