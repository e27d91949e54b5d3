package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchkey"
)

// DevicesCmd 列出输入设备
func DevicesCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := switchkey.ListCaptureDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no capture devices found")
				return nil
			}
			for i, d := range devices {
				mark := " "
				if d.Default {
					mark = "*"
				}
				fmt.Printf("%s %2d  %s\n", mark, i, d.Name)
			}

			if !probe {
				return nil
			}
			cfg := detectorConfig()
			opts := captureOptions(cfg)
			if err := switchkey.CheckDevice(opts); err != nil {
				return err
			}
			fmt.Printf("\nopened %q at %d Hz, block %d\n", cfg.DeviceName(), opts.SampleRate, opts.BlockSize)
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "open the configured device once to check it works")
	return cmd
}
