package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchkey"
	"switchkey/Calibration"
)

// CheckCmd 用保存的配置复核一段录音
func CheckCmd() *cobra.Command {
	var expect int

	cmd := &cobra.Command{
		Use:   "check <clip.wav>",
		Short: "Replay a recording with the saved config and report precision/recall",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clip, err := switchkey.ReadClip(args[0])
			if err != nil {
				return err
			}
			cfg := detectorConfig()
			if cfg.SampleRate != clip.SampleRate {
				logger.Warn("clip sample rate differs from config, using the clip's", "config", cfg.SampleRate, "clip", clip.SampleRate)
				cfg.SampleRate = clip.SampleRate
			}

			rep, err := Calibration.Check(clip.Samples, cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Precision: %.3f  Recall: %.3f\n", rep.Precision, rep.Recall)
			fmt.Println(rep)
			if expect > 0 && len(rep.Events) != expect {
				return fmt.Errorf("expected %d presses, detected %d", expect, len(rep.Events))
			}
			if rep.Duplicates {
				return fmt.Errorf("presses closer than the %d ms debounce window", cfg.DebounceMs)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&expect, "expect", 0, "fail unless exactly this many presses are detected")
	return cmd
}
