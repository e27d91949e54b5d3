package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchkey"
	"switchkey/Simulator"
)

// SynthCmd 生成一段模拟的开关录音，用来离线试校准
func SynthCmd() *cobra.Command {
	sc := Simulator.DefaultSessionConfig(48000)

	cmd := &cobra.Command{
		Use:   "synth <out.wav>",
		Short: "Write a simulated switch recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := Simulator.Generate(sc)
			if err := switchkey.WriteClip(args[0], sc.SampleRate, session.Samples); err != nil {
				return err
			}
			fmt.Printf("wrote %s: %d presses, %.2fs, onsets %v\n",
				args[0], len(session.Onsets), float64(len(session.Samples))/float64(sc.SampleRate), session.Onsets)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&sc.SampleRate, "rate", sc.SampleRate, "sample rate")
	f.IntVar(&sc.Presses, "presses", sc.Presses, "number of presses")
	f.Float64Var(&sc.GapMs, "gap", sc.GapMs, "idle time between presses (ms)")
	f.Float64Var(&sc.GapJitterMs, "gap-jitter", sc.GapJitterMs, "random +/- jitter on the gap (ms)")
	f.Float64Var(&sc.HoldMs, "hold", sc.HoldMs, "hold time (ms)")
	f.Float64Var(&sc.Depth, "depth", sc.Depth, "level drop while pressed")
	f.Float64Var(&sc.BounceMs, "bounce", sc.BounceMs, "contact bounce duration (ms)")
	f.Float64Var(&sc.NoiseStd, "noise", sc.NoiseStd, "white noise standard deviation")
	f.Float64Var(&sc.DriftPerSec, "drift", sc.DriftPerSec, "baseline drift per second")
	f.Float64Var(&sc.HumHz, "hum", sc.HumHz, "mains hum frequency (0 = none)")
	f.Float64Var(&sc.HumAmp, "hum-amp", 0.01, "mains hum amplitude")
	f.Float64Var(&sc.BandwidthHz, "bandwidth", sc.BandwidthHz, "input bandwidth limit in Hz (0 = none)")
	f.Int64Var(&sc.Seed, "seed", sc.Seed, "random seed")
	return cmd
}
