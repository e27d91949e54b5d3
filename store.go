package switchkey

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"switchkey/Detection"
)

// DefaultConfigPath 返回 ~/.switch_interface.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".switch_interface.json"
	}
	return filepath.Join(home, ".switch_interface.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDetectorConfig 读取检测器参数记录。
// 文件缺失、损坏或者参数组合不合法时都静默回退到默认值，只打一条 debug 日志；
// 记录里缺少的字段保持默认值。
func LoadDetectorConfig(path string) Detection.Config {
	def := Detection.DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("detector config unreadable, using defaults", "path", path, "err", err)
		}
		return def
	}

	cfg := def
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		slog.Debug("detector config corrupt, using defaults", "path", path, "err", err)
		return def
	}
	if err := cfg.Validate(); err != nil {
		slog.Debug("detector config invalid, using defaults", "path", path, "err", err)
		return def
	}
	return cfg
}

// SaveDetectorConfig 校验后写入记录。先写临时文件再改名，写到一半崩溃也不会留下半个文件。
func SaveDetectorConfig(path string, cfg Detection.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if path == "" {
		path = DefaultConfigPath()
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode detector config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save detector config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save detector config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save detector config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save detector config: %w", err)
	}
	return nil
}
