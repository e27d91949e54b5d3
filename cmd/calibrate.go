package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"switchkey"
	"switchkey/Calibration"
)

// CalibrateCmd 从录音自动校准检测器参数
func CalibrateCmd() *cobra.Command {
	var (
		clipFile string
		target   int
		workers  int
		save     bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Derive detector thresholds and debounce from a recording",
		Long: `Record the switch for a few seconds (or read --clip), then search for the
thresholds, debounce and block size that reproduce the expected number of
presses. Pass --target 0 when the number of presses is unknown.

Examples:
  switchkey calibrate --target 10 --save
  switchkey calibrate --clip session.wav --target 0 --output yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("target") {
				settings.Calibration.Target = target
			}
			if cmd.Flags().Changed("workers") {
				settings.Calibration.Workers = workers
			}
			return runCalibrate(clipFile, save, output)
		},
	}

	cmd.Flags().StringVar(&clipFile, "clip", "", "calibrate from a wav file instead of recording")
	cmd.Flags().IntVar(&target, "target", 10, "number of presses in the recording (0 = unknown)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel replays (0 = number of CPUs)")
	cmd.Flags().BoolVar(&save, "save", false, "write the result to the detector config record")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json, yaml")
	return cmd
}

func runCalibrate(clipFile string, save bool, output string) error {
	base := detectorConfig()
	ctx, cancel := signalContext()
	defer cancel()

	var samples []float32
	sampleRate := base.SampleRate
	if clipFile != "" {
		clip, err := switchkey.ReadClip(clipFile)
		if err != nil {
			return err
		}
		samples, sampleRate = clip.Samples, clip.SampleRate
		logger.Info("calibration clip loaded", "file", clipFile, "seconds", clip.Seconds(), "rate", sampleRate)
	} else {
		fmt.Printf("Recording %.0fs: press the switch %d times...\n", settings.Calibration.Seconds, settings.Calibration.Target)
		var err error
		samples, err = switchkey.RecordClip(ctx, captureOptions(base), settings.Calibration.Seconds)
		if err != nil {
			return err
		}
	}

	opts := Calibration.DefaultOptions()
	opts.Workers = settings.Calibration.Workers
	opts.Device = base.Device

	start := time.Now()
	res, err := Calibration.NewAutoCalibrator(opts, logger).Calibrate(ctx, samples, sampleRate, settings.Calibration.Target)
	metrics.RecordCalibration(ctx, res, err, time.Since(start))
	if err != nil && !errors.Is(err, Calibration.ErrNotConverged) {
		return err
	}

	if perr := printResult(res, output); perr != nil {
		return perr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	if save {
		if err := switchkey.SaveDetectorConfig(settings.Detector.Path, res.Config); err != nil {
			return err
		}
		logger.Info("detector config saved", "path", settings.Detector.Path)
	}
	return nil
}

func printResult(res *Calibration.Result, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(res)
	default:
		fmt.Println(res)
		return nil
	}
}
