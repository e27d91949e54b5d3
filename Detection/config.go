package Detection

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig 参数非法 (upper <= lower, 采样率 <= 0 等)，在开始处理音频之前就应该被拒绝
	ErrConfig = errors.New("invalid detector config")
	// ErrShape 输入块不是一维的单声道数据
	ErrShape = errors.New("invalid block shape")
)

// 默认参数，与持久化文件缺失时的回退值一致
const (
	DefaultUpperOffset = -0.2
	DefaultLowerOffset = -0.5
	DefaultSampleRate  = 44100
	DefaultBlockSize   = 256
	DefaultDebounceMs  = 40
)

// Config 是检测器的完整参数集，可以被手动/自动校准覆盖，并以扁平记录的形式保存
type Config struct {
	UpperOffset float64 `json:"upper_offset" yaml:"upper_offset"` // 相对基线的上阈值 (负数)
	LowerOffset float64 `json:"lower_offset" yaml:"lower_offset"` // 相对基线的下阈值 (负数，且小于 UpperOffset)
	SampleRate  int     `json:"samplerate" yaml:"samplerate"`
	BlockSize   int     `json:"blocksize" yaml:"blocksize"`
	DebounceMs  int     `json:"debounce_ms" yaml:"debounce_ms"` // 不应期 (毫秒)
	Device      *string `json:"device" yaml:"device"`           // 输入设备名，nil 表示系统默认
}

// DefaultConfig 返回内置默认参数
func DefaultConfig() Config {
	return Config{
		UpperOffset: DefaultUpperOffset,
		LowerOffset: DefaultLowerOffset,
		SampleRate:  DefaultSampleRate,
		BlockSize:   DefaultBlockSize,
		DebounceMs:  DefaultDebounceMs,
	}
}

// Validate 检查参数组合是否可用
func (c Config) Validate() error {
	if c.UpperOffset <= c.LowerOffset {
		return fmt.Errorf("%w: upper_offset (%.4f) must be > lower_offset (%.4f)", ErrConfig, c.UpperOffset, c.LowerOffset)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: samplerate must be positive, got %d", ErrConfig, c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: blocksize must be positive, got %d", ErrConfig, c.BlockSize)
	}
	if c.DebounceMs < 0 {
		return fmt.Errorf("%w: debounce_ms must be >= 0, got %d", ErrConfig, c.DebounceMs)
	}
	return nil
}

// DeviceName 返回设备名，未设置时为空字符串
func (c Config) DeviceName() string {
	if c.Device == nil {
		return ""
	}
	return *c.Device
}

// Params 把 Config 转换为检测步骤需要的参数
func (c Config) Params() Params {
	return Params{
		UpperOffset:       c.UpperOffset,
		LowerOffset:       c.LowerOffset,
		RefractorySamples: RefractorySamples(c.DebounceMs, c.SampleRate),
	}
}

// RefractorySamples = ceil(debounceMs / 1000 * sampleRate)
func RefractorySamples(debounceMs, sampleRate int) int {
	if debounceMs <= 0 || sampleRate <= 0 {
		return 0
	}
	return (debounceMs*sampleRate + 999) / 1000
}

// ShapeError 表示输入块不是扁平的一维采样序列。
// 生产环境中出现它意味着音频源接错了 (比如按立体声打开了设备)。
type ShapeError struct {
	Shape []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("block must be a 1-D array (got shape %s)", formatShape(e.Shape))
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

func formatShape(shape []int) string {
	s := "("
	for i, d := range shape {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprint(d)
	}
	if len(shape) == 1 {
		s += ","
	}
	return s + ")"
}
