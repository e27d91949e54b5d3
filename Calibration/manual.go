package Calibration

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"switchkey/Detection"
)

// ManualSession 让操作者一边看实时检测结果一边调整参数。
// Feed 在音频回调里调用，Set/Snapshot 在控制线程里调用，所以需要加锁。
type ManualSession struct {
	mu       sync.Mutex
	cfg      Detection.Config
	detector *Detection.EdgeDetector
	cfgErr   error

	presses   int
	lastPress int64 // 最近一次按下的绝对采样下标，-1 表示还没有
	samples   int64
	minLevel  float32 // 最近一个块的最小值，用来画电平表
	onPress   func()
	onCapture func(Detection.Config)
}

// Snapshot 是给界面/命令行显示用的只读快照
type Snapshot struct {
	Config    Detection.Config
	Presses   int
	LastPress int64
	Samples   int64
	Armed     bool
	Bias      float64
	Upper     float64 // 当前的动态上阈值
	Lower     float64
	MinLevel  float32
	Err       error // 当前参数组合不可用时的原因
}

// NewManualSession 从一份已有配置开始调整
func NewManualSession(cfg Detection.Config) *ManualSession {
	m := &ManualSession{cfg: cfg, lastPress: -1}
	m.rebuild()
	return m
}

// OnPress 设置每次按下时的回调，在 Feed 所在的线程里调用
func (m *ManualSession) OnPress(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPress = fn
}

// OnCaptureChange 设置采样率、块大小或设备变化时的回调，调用者需要按新参数重开音频输入。
// 回调在 Set/Apply 的调用线程里执行，此时不持有锁。
func (m *ManualSession) OnCaptureChange(fn func(cfg Detection.Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCapture = fn
}

// captureChanged 判断两份配置是否需要重开音频输入
func captureChanged(a, b Detection.Config) bool {
	return a.SampleRate != b.SampleRate || a.BlockSize != b.BlockSize || a.DeviceName() != b.DeviceName()
}

// replace 换上新配置并清零计数，返回需要通知的回调 (不需要时为 nil)。调用者持有锁。
func (m *ManualSession) replace(cfg Detection.Config) func(Detection.Config) {
	changed := captureChanged(m.cfg, cfg)
	m.cfg = cfg
	m.rebuild()
	m.presses = 0
	m.lastPress = -1
	m.samples = 0
	if changed {
		return m.onCapture
	}
	return nil
}

func (m *ManualSession) rebuild() {
	m.detector, m.cfgErr = Detection.NewEdgeDetector(m.cfg)
}

// Set 按键名修改一个参数。参数组合暂时不合法 (比如先改了 lower) 不算错误，
// 只是在修正之前 Feed 会拒绝处理音频。
func (m *ManualSession) Set(key, value string) error {
	m.mu.Lock()
	notify, err := m.set(key, value)
	cfg := m.cfg
	m.mu.Unlock()

	if notify != nil {
		notify(cfg)
	}
	return err
}

func (m *ManualSession) set(key, value string) (func(Detection.Config), error) {
	value = strings.TrimSpace(value)
	cfg := m.cfg
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "upper", "upper_offset":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		cfg.UpperOffset = v
	case "lower", "lower_offset":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		cfg.LowerOffset = v
	case "debounce", "debounce_ms":
		v, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		cfg.DebounceMs = v
	case "samplerate", "sample_rate":
		v, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		cfg.SampleRate = v
	case "blocksize", "block_size":
		v, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		cfg.BlockSize = v
	case "device":
		if value == "" || value == "default" || value == "null" {
			cfg.Device = nil
		} else {
			dev := value
			cfg.Device = &dev
		}
	default:
		return nil, fmt.Errorf("unknown setting %q", key)
	}

	return m.replace(cfg), nil
}

// Feed 用当前参数处理一个实时音频块，返回是否检测到按下
func (m *ManualSession) Feed(block []float32) (bool, error) {
	m.mu.Lock()
	if m.cfgErr != nil {
		err := m.cfgErr
		m.mu.Unlock()
		return false, err
	}

	offset, pressed := m.detector.Process(block)
	if len(block) > 0 {
		lowest := block[0]
		for _, v := range block[1:] {
			lowest = min(lowest, v)
		}
		m.minLevel = lowest
	}
	if pressed {
		m.presses++
		m.lastPress = m.samples + int64(offset)
	}
	m.samples += int64(len(block))
	cb := m.onPress
	m.mu.Unlock()

	if pressed && cb != nil {
		cb()
	}
	return pressed, nil
}

// Presses 返回自上次修改参数以来检测到的按下次数
func (m *ManualSession) Presses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presses
}

func (m *ManualSession) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Config:    m.cfg,
		Presses:   m.presses,
		LastPress: m.lastPress,
		Samples:   m.samples,
		MinLevel:  m.minLevel,
		Err:       m.cfgErr,
	}
	if m.detector != nil {
		st := m.detector.State()
		s.Armed = st.Armed
		s.Bias = st.Bias
		s.Upper, s.Lower = m.detector.Thresholds()
	}
	return s
}

// Config 返回校验过的配置
func (m *ManualSession) Config() (Detection.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cfg.Validate(); err != nil {
		return m.cfg, err
	}
	return m.cfg, nil
}

// Apply 整体替换配置，比如载入自动校准的结果
func (m *ManualSession) Apply(cfg Detection.Config) {
	m.mu.Lock()
	notify := m.replace(cfg)
	m.mu.Unlock()

	if notify != nil {
		notify(cfg)
	}
}

// Reset 清零计数和检测状态，参数不变
func (m *ManualSession) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detector != nil {
		m.detector.Reset()
	}
	m.presses = 0
	m.lastPress = -1
	m.samples = 0
}
