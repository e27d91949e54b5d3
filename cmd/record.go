package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchkey"
)

// RecordCmd 录一段音频用于离线校准
func RecordCmd() *cobra.Command {
	var (
		seconds float64
		device  string
	)

	cmd := &cobra.Command{
		Use:   "record <out.wav>",
		Short: "Record the switch input to a wav file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("seconds") {
				seconds = settings.Calibration.Seconds
			}
			cfg := detectorConfig()
			opts := captureOptions(cfg)
			if device != "" {
				opts.Device = device
			}

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Printf("Recording %.1fs at %d Hz, press the switch now...\n", seconds, cfg.SampleRate)
			clip, err := switchkey.RecordClip(ctx, opts, seconds)
			if err != nil {
				return err
			}
			if err := switchkey.WriteClip(args[0], cfg.SampleRate, clip); err != nil {
				return err
			}
			logger.Info("recording saved", "file", args[0], "seconds", float64(len(clip))/float64(cfg.SampleRate))
			return nil
		},
	}

	cmd.Flags().Float64Var(&seconds, "seconds", 15, "recording length")
	cmd.Flags().StringVar(&device, "device", "", "input device name (substring match)")
	return cmd
}
