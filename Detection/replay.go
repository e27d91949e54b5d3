package Detection

import "fmt"

// Replay 把一段完整的录音按固定大小分块 (不重叠、不重排) 送进一个全新的检测器，
// 返回每次按下的采样下标。相同输入总是得到相同输出，校准搜索把它当作模拟器使用。
func Replay(samples []float32, sampleRate int, upper, lower float64, debounceMs, blockSize int) ([]int, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: samplerate must be positive, got %d", ErrConfig, sampleRate)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: blocksize must be positive, got %d", ErrConfig, blockSize)
	}
	if debounceMs < 0 {
		return nil, fmt.Errorf("%w: debounce_ms must be >= 0, got %d", ErrConfig, debounceMs)
	}
	p := Params{
		UpperOffset:       upper,
		LowerOffset:       lower,
		RefractorySamples: RefractorySamples(debounceMs, sampleRate),
	}
	return ReplayParams(samples, p, blockSize)
}

// ReplayConfig 使用一份完整的 Config 回放
func ReplayConfig(samples []float32, cfg Config) ([]int, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return ReplayParams(samples, cfg.Params(), cfg.BlockSize)
}

// ReplayParams 使用现成的检测参数回放
func ReplayParams(samples []float32, p Params, blockSize int) ([]int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: blocksize must be positive, got %d", ErrConfig, blockSize)
	}

	st := NewState()
	var events []int
	for start := 0; start < len(samples); start += blockSize {
		end := min(start+blockSize, len(samples))
		var offset int
		var pressed bool
		st, offset, pressed = Step(samples[start:end], st, p)
		if pressed {
			events = append(events, start+offset)
		}
	}
	return events, nil
}

// ReplayCount 只返回按下次数
func ReplayCount(samples []float32, sampleRate int, upper, lower float64, debounceMs, blockSize int) (int, error) {
	events, err := Replay(samples, sampleRate, upper, lower, debounceMs, blockSize)
	return len(events), err
}

// HasDuplicates 判断是否有两次按下的间隔小于去抖窗口
func HasDuplicates(events []int, debounceMs, sampleRate int) bool {
	if sampleRate <= 0 {
		return false
	}
	for i := 1; i < len(events); i++ {
		gapMs := float64(events[i]-events[i-1]) * 1000 / float64(sampleRate)
		if gapMs < float64(debounceMs) {
			return true
		}
	}
	return false
}
