package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"switchkey"
	"switchkey/Detection"
)

var (
	settingsFile string
	detectorPath string
	logLevel     string
	metricsAddr  string

	settings   *switchkey.Settings
	logger     *slog.Logger
	logCloser  io.Closer
	metrics    = switchkey.NoopMetrics()
	shutdownMP func(context.Context) error
)

// SetupRootCmd 构建命令行
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "switchkey",
		Short: "Single switch press detection on a microphone input",
		Long: `switchkey turns an accessibility switch plugged into a microphone jack
into key presses. It detects presses in the audio signal, calibrates the
detector from a recording and forwards presses to a serial HID bridge.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			settings, err = switchkey.LoadSettings(settingsFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("detector") {
				settings.Detector.Path = detectorPath
			}
			if cmd.Flags().Changed("log-level") {
				settings.Log.Level = logLevel
			}
			if cmd.Flags().Changed("metrics-addr") {
				settings.Metrics.Addr = metricsAddr
			}
			logger, logCloser = switchkey.SetupLogging(settings.Log.Level, settings.Log.File)

			if settings.Metrics.Addr != "" {
				mp, shutdown, err := switchkey.InitMetricsProvider()
				if err != nil {
					return fmt.Errorf("metrics: %w", err)
				}
				if metrics, err = switchkey.NewMetrics(mp); err != nil {
					return fmt.Errorf("metrics: %w", err)
				}
				shutdownMP = shutdown
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if shutdownMP != nil {
				_ = shutdownMP(context.Background())
			}
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "YAML settings file")
	rootCmd.PersistentFlags().StringVar(&detectorPath, "detector", switchkey.DefaultConfigPath(), "detector config record (.json or .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")

	// Add commands
	rootCmd.AddCommand(ListenCmd())
	rootCmd.AddCommand(RecordCmd())
	rootCmd.AddCommand(CalibrateCmd())
	rootCmd.AddCommand(CheckCmd())
	rootCmd.AddCommand(TuneCmd())
	rootCmd.AddCommand(DevicesCmd())
	rootCmd.AddCommand(SynthCmd())

	return rootCmd
}

// signalContext 在 Ctrl+C 或 SIGTERM 时取消，同时启动 /metrics 服务
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if settings.Metrics.Addr != "" {
		go func() {
			if err := switchkey.ServeMetrics(ctx, settings.Metrics.Addr); err != nil {
				logger.Error("metrics server stopped", "addr", settings.Metrics.Addr, "err", err)
			}
		}()
		logger.Info("serving metrics", "addr", settings.Metrics.Addr)
	}
	return ctx, cancel
}

// detectorConfig 读取检测器记录，命令行/设置里的设备名优先
func detectorConfig() Detection.Config {
	cfg := switchkey.LoadDetectorConfig(settings.Detector.Path)
	if settings.Audio.Device != "" {
		dev := settings.Audio.Device
		cfg.Device = &dev
	}
	return cfg
}

func captureOptions(cfg Detection.Config) switchkey.CaptureOptions {
	return switchkey.CaptureOptions{
		SampleRate:     cfg.SampleRate,
		BlockSize:      cfg.BlockSize,
		Device:         cfg.DeviceName(),
		ExclusiveFirst: settings.Audio.ExclusiveFirst,
	}
}
