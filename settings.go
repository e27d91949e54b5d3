package switchkey

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings 集中管理程序运行时的可调参数。
// 检测器本身的阈值不在这里，而是单独保存在 DetectorPath 指向的记录里，
// 那份记录由校准流程读写。
type Settings struct {
	// --- 音频输入 ---
	Audio struct {
		Device         string `yaml:"device"`          // 覆盖检测器记录里的设备名，空表示沿用记录
		ExclusiveFirst bool   `yaml:"exclusive_first"` // 先尝试独占模式打开，失败再退回共享模式
	} `yaml:"audio"`

	// --- 检测器参数记录 ---
	Detector struct {
		Path string `yaml:"path"` // JSON 或 YAML 文件，默认 ~/.switch_interface.json
	} `yaml:"detector"`

	// --- 监听 ---
	Listen struct {
		QueueSize     int           `yaml:"queue_size"`     // 按键队列长度，队列满时丢弃并计数
		ReplayPace    bool          `yaml:"replay_pace"`    // 回放时按实时速度送块
		TracePath     string        `yaml:"trace_path"`     // 每块一行的 CSV 跟踪，空表示关闭
		RecordPath    string        `yaml:"record_path"`    // 同时录音到 wav，空表示关闭
		StatsInterval time.Duration `yaml:"stats_interval"` // 周期性打印统计，0 表示关闭
	} `yaml:"listen"`

	// --- 串口转发 ---
	// 把每次按下转发给串口 HID 桥
	Serial struct {
		Enabled  bool   `yaml:"enabled"`
		Port     string `yaml:"port"`
		BaudRate int    `yaml:"baud_rate"`
	} `yaml:"serial"`

	// --- 自动校准 ---
	Calibration struct {
		Target  int     `yaml:"target"`  // 期望的按下次数，0 表示未知
		Seconds float64 `yaml:"seconds"` // 实时录音校准的时长
		Workers int     `yaml:"workers"` // 并行回放的协程数，0 表示 CPU 核数
	} `yaml:"calibration"`

	// --- 指标 ---
	Metrics struct {
		Addr string `yaml:"addr"` // Prometheus /metrics 监听地址，空表示关闭
	} `yaml:"metrics"`

	// --- 日志 ---
	Log struct {
		Level string `yaml:"level"` // debug, info, warn, error
		File  string `yaml:"file"`  // 同时写入的日志文件，空表示只输出到终端
	} `yaml:"log"`
}

// DefaultSettings 返回默认配置
func DefaultSettings() *Settings {
	s := &Settings{}

	s.Audio.ExclusiveFirst = true

	s.Detector.Path = DefaultConfigPath()

	s.Listen.QueueSize = 64
	s.Listen.ReplayPace = true

	s.Serial.Port = "/dev/ttyACM0"
	s.Serial.BaudRate = 115200

	s.Calibration.Target = 10
	s.Calibration.Seconds = 15

	s.Log.Level = "info"
	s.Log.File = DefaultLogPath()

	return s
}

// LoadSettings 用 YAML 文件覆盖默认配置，文件里没写的字段保持默认值。
// 文件不存在不算错误。
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Validate 检查明显不合理的值
func (s *Settings) Validate() error {
	if s.Listen.QueueSize <= 0 {
		return fmt.Errorf("listen.queue_size must be positive, got %d", s.Listen.QueueSize)
	}
	if s.Serial.Enabled && s.Serial.Port == "" {
		return errors.New("serial.port is required when serial.enabled is set")
	}
	if s.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", s.Serial.BaudRate)
	}
	if s.Calibration.Target < 0 {
		return fmt.Errorf("calibration.target must be >= 0, got %d", s.Calibration.Target)
	}
	if s.Calibration.Seconds <= 0 {
		return fmt.Errorf("calibration.seconds must be positive, got %g", s.Calibration.Seconds)
	}
	return nil
}
