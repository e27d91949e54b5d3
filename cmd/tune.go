package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"switchkey"
	"switchkey/Calibration"
	"switchkey/Detection"
)

// TuneCmd 手动调参: 一边喂实时音频一边从标准输入修改参数
func TuneCmd() *cobra.Command {
	var (
		clipFile string
		device   string
	)

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Adjust detector parameters interactively while watching live detection",
		Long: `Feed live audio (or a looping --clip) through the detector and change
parameters from the prompt. Commands:

  set <key> <value>   upper, lower, debounce, blocksize, samplerate, device
  show                current parameters, levels and press count
  reset               zero the press counter
  load                reload the saved detector config
  save                write the current parameters to the detector config
  quit                leave without saving`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if device != "" {
				settings.Audio.Device = device
			}
			return runTune(clipFile, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&clipFile, "clip", "", "loop a wav file instead of capturing")
	cmd.Flags().StringVar(&device, "device", "", "input device name (substring match)")
	return cmd
}

func runTune(clipFile string, in io.Reader, out io.Writer) error {
	ctx, cancel := signalContext()
	defer cancel()

	session := Calibration.NewManualSession(detectorConfig())
	session.OnPress(func() {
		fmt.Fprintf(out, "  * press (%d)\n", session.Presses())
	})

	// 参数不合法时 Feed 丢弃音频，原因由 show 显示
	feed := func(block []float32) { _, _ = session.Feed(block) }

	stopInput, err := startTuneInput(ctx, clipFile, session, feed, out)
	if err != nil {
		return err
	}
	defer stopInput()

	fmt.Fprintln(out, "tune: type 'show' for status, 'quit' to leave")
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}
		done, err := tuneCommand(session, line, out)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
		if done {
			return nil
		}
	}
}

// tuneCommand 执行一行命令，返回是否退出
func tuneCommand(session *Calibration.ManualSession, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch strings.ToLower(fields[0]) {
	case "set":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: set <key> <value>")
		}
		return false, session.Set(fields[1], strings.Join(fields[2:], " "))
	case "show":
		printSnapshot(out, session.Snapshot())
	case "reset":
		session.Reset()
	case "load":
		session.Apply(switchkey.LoadDetectorConfig(settings.Detector.Path))
		printSnapshot(out, session.Snapshot())
	case "save":
		cfg, err := session.Config()
		if err != nil {
			return false, err
		}
		if err := switchkey.SaveDetectorConfig(settings.Detector.Path, cfg); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "saved to", settings.Detector.Path)
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	return false, nil
}

func printSnapshot(out io.Writer, s Calibration.Snapshot) {
	c := s.Config
	fmt.Fprintf(out, "upper=%.4f lower=%.4f debounce=%dms block=%d rate=%d device=%q\n",
		c.UpperOffset, c.LowerOffset, c.DebounceMs, c.BlockSize, c.SampleRate, c.DeviceName())
	if s.Err != nil {
		fmt.Fprintln(out, "  invalid:", s.Err)
		return
	}
	fmt.Fprintf(out, "  presses=%d armed=%t bias=%.4f thresholds=[%.4f, %.4f] level=%.4f\n",
		s.Presses, s.Armed, s.Bias, s.Upper, s.Lower, s.MinLevel)
}

// liveInput 持有当前的采集流，采集参数变化时整体重开
type liveInput struct {
	mu      sync.Mutex
	capture *switchkey.AudioCapture
	feed    func([]float32)
}

// reopen 关掉旧的流再按 cfg 打开。cfg 不合法时保持关闭，直到参数被修正。
func (l *liveInput) reopen(cfg Detection.Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capture != nil {
		l.capture.Stop()
		l.capture = nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	capture, err := switchkey.NewAudioCapture(captureOptions(cfg), l.feed)
	if err != nil {
		return err
	}
	if err := capture.Start(); err != nil {
		capture.Stop()
		return err
	}
	l.capture = capture
	logger.Info("tuning on live input", "device", cfg.DeviceName(), "rate", cfg.SampleRate, "blocksize", cfg.BlockSize, "mode", capture.ShareMode)
	return nil
}

func (l *liveInput) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capture != nil {
		l.capture.Stop()
		l.capture = nil
	}
}

// startTuneInput 启动音频输入，返回停止函数
func startTuneInput(ctx context.Context, clipFile string, session *Calibration.ManualSession, feed func([]float32), out io.Writer) (func(), error) {
	if clipFile == "" {
		live := &liveInput{feed: feed}
		if err := live.reopen(session.Snapshot().Config); err != nil {
			return nil, err
		}
		session.OnCaptureChange(func(cfg Detection.Config) {
			if err := live.reopen(cfg); err != nil {
				fmt.Fprintln(out, "input closed:", err)
			}
		})
		return live.stop, nil
	}

	clip, err := switchkey.ReadClip(clipFile)
	if err != nil {
		return nil, err
	}
	session.OnCaptureChange(func(cfg Detection.Config) {
		if cfg.SampleRate != clip.SampleRate {
			fmt.Fprintf(out, "note: clip is %d Hz, debounce is computed for %d Hz\n", clip.SampleRate, cfg.SampleRate)
		}
	})
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loopClip(loopCtx, clip, session, feed)
	}()
	return func() { cancel(); <-done }, nil
}

// loopClip 按实时速度循环回放，块大小跟随当前参数
func loopClip(ctx context.Context, clip *switchkey.Clip, session *Calibration.ManualSession, feed func([]float32)) {
	pos := 0
	for {
		size := session.Snapshot().Config.BlockSize
		if size <= 0 {
			size = Detection.DefaultBlockSize
		}
		end := min(pos+size, len(clip.Samples))
		feed(clip.Samples[pos:end])
		pos = end
		if pos >= len(clip.Samples) {
			pos = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(size) * time.Second / time.Duration(clip.SampleRate)):
		}
	}
}
