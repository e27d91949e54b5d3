package switchkey

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchkey/Detection"
)

func TestDetectorConfig_RoundTripJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switch.json")
	dev := "USB Audio CODEC"
	cfg := Detection.Config{
		UpperOffset: -0.12,
		LowerOffset: -0.37,
		SampleRate:  48000,
		BlockSize:   128,
		DebounceMs:  25,
		Device:      &dev,
	}

	require.NoError(t, SaveDetectorConfig(path, cfg))
	assert.Equal(t, cfg, LoadDetectorConfig(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{"upper_offset", "lower_offset", "samplerate", "blocksize", "debounce_ms", "device"} {
		assert.Contains(t, string(raw), `"`+key+`"`)
	}
}

func TestDetectorConfig_RoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switch.yaml")
	cfg := Detection.DefaultConfig()
	cfg.DebounceMs = 60

	require.NoError(t, SaveDetectorConfig(path, cfg))
	got := LoadDetectorConfig(path)
	assert.Equal(t, cfg, got)
	assert.Nil(t, got.Device)
}

func TestDetectorConfig_MissingFileUsesDefaults(t *testing.T) {
	got := LoadDetectorConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, Detection.DefaultConfig(), got)
}

func TestDetectorConfig_CorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switch.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Equal(t, Detection.DefaultConfig(), LoadDetectorConfig(path))

	// upper <= lower 的记录同样回退
	require.NoError(t, os.WriteFile(path, []byte(`{"upper_offset": -0.5, "lower_offset": -0.2}`), 0o644))
	assert.Equal(t, Detection.DefaultConfig(), LoadDetectorConfig(path))
}

func TestDetectorConfig_PartialRecordKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switch.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"debounce_ms": 70}`), 0o644))

	want := Detection.DefaultConfig()
	want.DebounceMs = 70
	assert.Equal(t, want, LoadDetectorConfig(path))
}

func TestDetectorConfig_SaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switch.json")
	cfg := Detection.DefaultConfig()
	cfg.LowerOffset = cfg.UpperOffset

	err := SaveDetectorConfig(path, cfg)
	require.ErrorIs(t, err, Detection.ErrConfig)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadSettings_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	body := strings.Join([]string{
		"listen:",
		"  queue_size: 8",
		"serial:",
		"  enabled: true",
		"  port: /dev/ttyUSB1",
		"calibration:",
		"  target: 0",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Listen.QueueSize)
	assert.True(t, s.Serial.Enabled)
	assert.Equal(t, "/dev/ttyUSB1", s.Serial.Port)
	assert.Equal(t, 115200, s.Serial.BaudRate)
	assert.Equal(t, 0, s.Calibration.Target)
	assert.Equal(t, 15.0, s.Calibration.Seconds)
}

func TestLoadSettings_MissingAndInvalid(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  queue_size: 0\n"), 0o644))
	_, err = LoadSettings(path)
	assert.Error(t, err)
}

func TestSetupLogging_FallsBackToConsole(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var console bytes.Buffer
	missingDir := filepath.Join(t.TempDir(), "no", "such", "dir", "app.log")

	logger, closer := setupLogging(&console, "debug", missingDir)
	defer closer.Close()
	logger.Debug("hello")

	assert.Contains(t, console.String(), "log file unavailable")
	assert.Contains(t, console.String(), "msg=hello")
}

func TestSetupLogging_WritesFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "app.log")

	logger, closer := setupLogging(&console, "warn", file)
	logger.Info("quiet")
	logger.Warn("loud")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
	assert.Contains(t, console.String(), "loud")
}
