package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"switchkey/Calibration"
	"switchkey/Detection"
	"switchkey/Simulator"
)

// ============================================================================
// 1. 测试用例 (Test Cases)
// ============================================================================

// TestCase 是一段模拟录音的信道条件
type TestCase struct {
	Name     string
	Presses  int
	Noise    float64 // 白噪声标准差
	Bounce   float64 // 触点抖动 (ms)
	Drift    float64 // 基线漂移 (每秒)
	HumHz    float64
	Jitter   float64 // 间隔抖动 (ms)
	Unknown  bool    // 不告诉校准器按了几次
	BlockLen int     // 回放/实时处理时的块大小，0 表示用校准结果
}

func testCases() []TestCase {
	return []TestCase{
		{Name: "Level 1 (Easy)", Presses: 10, Noise: 0.005, Bounce: 3},
		{Name: "Level 2 (Medium)", Presses: 10, Noise: 0.02, Bounce: 8, Jitter: 100},
		{Name: "Level 2 (Medium)", Presses: 10, Noise: 0.01, Bounce: 5, Drift: 0.05},
		{Name: "Level 2 (Medium)", Presses: 10, Noise: 0.01, Bounce: 5, HumHz: 50},
		{Name: "Level 2 (Unknown)", Presses: 12, Noise: 0.01, Bounce: 5, Unknown: true},
		{Name: "Level 3 (Hard)", Presses: 20, Noise: 0.05, Bounce: 15, Drift: 0.05, HumHz: 60, Jitter: 150},
	}
}

// ============================================================================
// 2. 评分 (Scoring)
// ============================================================================

// Score 把检测到的按下和真实起点对比，每个真实起点最多匹配一次
func Score(onsets, events []int, window int) (precision, recall float64) {
	sorted := append([]int(nil), events...)
	sort.Ints(sorted)
	used := make([]bool, len(sorted))
	matched := 0
	for _, on := range onsets {
		i := sort.SearchInts(sorted, on)
		for ; i < len(sorted) && sorted[i] <= on+window; i++ {
			if !used[i] {
				used[i] = true
				matched++
				break
			}
		}
	}
	precision, recall = 1, 1
	if len(events) > 0 {
		precision = float64(matched) / float64(len(events))
	}
	if len(onsets) > 0 {
		recall = float64(matched) / float64(len(onsets))
	}
	return precision, recall
}

// ============================================================================
// 3. 基准测试套件 (Benchmark Harness)
// ============================================================================

func RunBenchmark(sampleRate int) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tPRESSES\tNOISE\tBOUNCE(ms)\tDRIFT\tHUM\tFOUND\tDEBOUNCE\tBLOCK\tPREC\tRECALL\tREPLAYS\tTIME(ms)\tSTATUS")
	fmt.Fprintln(w, "-----\t-------\t-----\t----------\t-----\t---\t-----\t--------\t-----\t----\t------\t-------\t--------\t------")

	for i, tc := range testCases() {
		// 1. Generate session
		sc := Simulator.DefaultSessionConfig(sampleRate)
		sc.Presses = tc.Presses
		sc.NoiseStd = tc.Noise
		sc.BounceMs = tc.Bounce
		sc.DriftPerSec = tc.Drift
		sc.HumHz = tc.HumHz
		sc.HumAmp = 0.02
		sc.GapJitterMs = tc.Jitter
		sc.Seed = int64(i + 1)
		session := Simulator.Generate(sc)

		target := tc.Presses
		if tc.Unknown {
			target = 0
		}

		// 2. Calibrate
		start := time.Now()
		res, err := Calibration.NewAutoCalibrator(Calibration.DefaultOptions(), logger).
			Calibrate(context.Background(), session.Samples, sampleRate, target)
		elapsed := time.Since(start)
		if err != nil && !errors.Is(err, Calibration.ErrNotConverged) {
			fmt.Fprintf(w, "%s\t%d\t%.3f\t%.0f\t%.2f\t%.0f\t-\t-\t-\t-\t-\t-\t%d\tERROR: %v\n",
				tc.Name, tc.Presses, tc.Noise, tc.Bounce, tc.Drift, tc.HumHz, elapsed.Milliseconds(), err)
			continue
		}

		// 3. Replay with the calibrated config and score against ground truth
		cfg := res.Config
		if tc.BlockLen > 0 {
			cfg.BlockSize = tc.BlockLen
		}
		events, err := Detection.ReplayConfig(session.Samples, cfg)
		if err != nil {
			fmt.Fprintf(w, "%s\t%d\t%.3f\t%.0f\t%.2f\t%.0f\t-\t-\t-\t-\t-\t-\t%d\tERROR: %v\n",
				tc.Name, tc.Presses, tc.Noise, tc.Bounce, tc.Drift, tc.HumHz, elapsed.Milliseconds(), err)
			continue
		}
		window := Detection.RefractorySamples(cfg.DebounceMs, sampleRate)
		precision, recall := Score(session.Onsets, events, window)

		status := "PASS"
		if precision < 0.95 || recall < 0.95 {
			status = "FAIL"
		} // 95% 作为及格线

		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.0f\t%.2f\t%.0f\t%d\t%d\t%d\t%.2f\t%.2f\t%d\t%d\t%s\n",
			tc.Name, tc.Presses, tc.Noise, tc.Bounce, tc.Drift, tc.HumHz, len(events),
			cfg.DebounceMs, cfg.BlockSize, precision, recall, res.Replays, elapsed.Milliseconds(), status)
	}
	w.Flush()
}

// ============================================================================
// Main Entry
// ============================================================================

func main() {
	fmt.Println("Starting Switch Calibration Benchmark Suite...")
	fmt.Println("==============================================")

	RunBenchmark(16000)

	fmt.Println("\nBenchmark Complete.")
}
