package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchkey"
)

// ListenCmd 实时监听 (或回放 wav) 并投递按下
func ListenCmd() *cobra.Command {
	var (
		replayFile string
		recordFile string
		traceFile  string
		serialPort string
		device     string
		noPace     bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Detect switch presses and deliver them",
		Long: `Open the input device (or replay a wav file) and run the edge detector on
every block. Each press is printed and forwarded to the serial bridge when
one is configured.

Examples:
  switchkey listen
  switchkey listen --replay session.wav --trace trace.csv
  switchkey listen --serial /dev/ttyACM0 --record capture.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if traceFile != "" {
				settings.Listen.TracePath = traceFile
			}
			if recordFile != "" {
				settings.Listen.RecordPath = recordFile
			}
			if serialPort != "" {
				settings.Serial.Enabled = true
				settings.Serial.Port = serialPort
			}
			if device != "" {
				settings.Audio.Device = device
			}
			if noPace {
				settings.Listen.ReplayPace = false
			}
			return runListen(replayFile)
		},
	}

	cmd.Flags().StringVar(&replayFile, "replay", "", "replay a wav file instead of the live device")
	cmd.Flags().StringVar(&recordFile, "record", "", "also record the live input to this wav file")
	cmd.Flags().StringVar(&traceFile, "trace", "", "write a per-block detector trace (CSV)")
	cmd.Flags().StringVar(&serialPort, "serial", "", "forward presses to the serial bridge on this port")
	cmd.Flags().StringVar(&device, "device", "", "input device name (substring match)")
	cmd.Flags().BoolVar(&noPace, "fast", false, "replay as fast as possible")
	return cmd
}

func runListen(replayFile string) error {
	cfg := detectorConfig()
	if replayFile == "" {
		if err := switchkey.CheckDevice(captureOptions(cfg)); err != nil {
			return err
		}
	}

	sys, err := switchkey.NewSwitchSystem(cfg, settings, logger)
	if err != nil {
		return err
	}
	sys.SetMetrics(metrics)
	if replayFile != "" {
		sys.SetReplayFile(replayFile)
	}
	if settings.Listen.RecordPath != "" {
		sys.EnableRecording(settings.Listen.RecordPath)
	}
	if settings.Listen.TracePath != "" {
		tracer, err := switchkey.NewCsvTracer(settings.Listen.TracePath)
		if err != nil {
			return fmt.Errorf("trace: %w", err)
		}
		sys.SetTracer(tracer)
	}

	if settings.Serial.Enabled {
		notifier := switchkey.NewSerialNotifier(settings.Serial.Port, settings.Serial.BaudRate)
		if err := notifier.Open(); err != nil {
			logger.Warn("could not open serial port, presses will only be printed", "err", err)
		} else {
			defer notifier.Close()
			if major, minor, err := notifier.Version(); err == nil {
				logger.Info("serial bridge connected", "port", settings.Serial.Port, "version", fmt.Sprintf("%d.%d", major, minor))
			}
			sys.AddSink("serial", notifier)
		}
	}

	sys.AddSink("console", switchkey.PressSinkFunc(func(p switchkey.Press) error {
		fmt.Printf("PRESS #%d t=%.3fs idx=%d\n", p.Seq, float64(p.Sample)/float64(sys.Config().SampleRate), p.Sample)
		return nil
	}))

	ctx, cancel := signalContext()
	defer cancel()

	if err := sys.Start(ctx); err != nil {
		return err
	}
	logger.Info("listening", "upper", cfg.UpperOffset, "lower", cfg.LowerOffset, "debounce_ms", cfg.DebounceMs, "blocksize", cfg.BlockSize)

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case <-sys.Done():
	}
	err = sys.Stop()

	st := sys.Stats()
	logger.Info("listen finished", "blocks", st.Blocks, "samples", st.Samples, "presses", st.Presses, "dropped", st.Dropped)
	return err
}
