package switchkey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"switchkey/Detection"
)

// Press 是一次检测到的按下
type Press struct {
	Seq    uint64    // 从 1 开始的序号
	Sample int64     // 绝对采样下标
	Time   time.Time // 检测到的时刻 (音频线程上的墙钟时间)
}

// PressSink 接收按下事件，比如串口转发器
type PressSink interface {
	Notify(p Press) error
}

// PressSinkFunc 让普通函数实现 PressSink
type PressSinkFunc func(p Press) error

func (f PressSinkFunc) Notify(p Press) error { return f(p) }

type namedSink struct {
	name string
	sink PressSink
}

// Stats 是运行统计
type Stats struct {
	Blocks    int64
	Samples   int64
	Presses   int64 // 已投递
	Dropped   int64 // 队列满被丢弃
	ShareMode string
}

// SwitchSystem 管理音频输入 -> 边沿检测 -> 按键投递的整个生命周期。
// 音频回调里只做检测和非阻塞入队，回调函数和各个 sink 在单独的协程里执行。
type SwitchSystem struct {
	cfg      Detection.Config
	settings *Settings
	logger   *slog.Logger
	metrics  *Metrics
	tracer   DetectorTracer

	// 组件
	detector     *Detection.EdgeDetector
	audioCapture *AudioCapture
	wavSource    *WavSource
	wavWriter    *ClipWriter

	// 状态
	replayFile string
	recordFile string
	samples    int64
	seq        uint64
	blocks     atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	recordErr  atomic.Pointer[error] // 第一次写录音失败的原因，之后不再写

	// 投递
	sinks   []namedSink
	onPress func()
	presses chan Press

	cancel   context.CancelFunc
	done     chan struct{}
	producer sync.WaitGroup
	drain    sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// NewSwitchSystem 创建系统实例，cfg 是检测器参数记录
func NewSwitchSystem(cfg Detection.Config, settings *Settings, logger *slog.Logger) (*SwitchSystem, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if settings.Audio.Device != "" {
		dev := settings.Audio.Device
		cfg.Device = &dev
	}
	queue := settings.Listen.QueueSize
	if queue <= 0 {
		queue = 1
	}
	return &SwitchSystem{
		cfg:      cfg,
		settings: settings,
		logger:   logger.With("component", "listen"),
		metrics:  NoopMetrics(),
		tracer:   NoOpTracer{},
		presses:  make(chan Press, queue),
		done:     make(chan struct{}),
	}, nil
}

// SetMetrics 替换指标，必须在 Start 之前调用
func (s *SwitchSystem) SetMetrics(m *Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetTracer 设置每块一行的跟踪输出，必须在 Start 之前调用
func (s *SwitchSystem) SetTracer(t DetectorTracer) {
	if t != nil {
		s.tracer = t
	}
}

// EnableRecording 开启录音 (仅实时模式)
func (s *SwitchSystem) EnableRecording(filename string) {
	s.recordFile = filename
}

// SetReplayFile 设置回放文件 (设置后将进入回放模式)
func (s *SwitchSystem) SetReplayFile(filename string) {
	s.replayFile = filename
}

// OnPress 设置每次按下时的回调，在投递协程里调用
func (s *SwitchSystem) OnPress(fn func()) {
	s.onPress = fn
}

// AddSink 增加一个按下事件的接收者
func (s *SwitchSystem) AddSink(name string, sink PressSink) {
	s.sinks = append(s.sinks, namedSink{name: name, sink: sink})
}

// Config 返回实际使用的检测器参数 (回放模式下采样率取自文件)
func (s *SwitchSystem) Config() Detection.Config {
	return s.cfg
}

// Done 在回放结束时关闭；实时模式下只有 Stop 之后才关闭
func (s *SwitchSystem) Done() <-chan struct{} {
	return s.done
}

// Start 启动系统
func (s *SwitchSystem) Start(ctx context.Context) error {
	if s.started {
		return errors.New("switch system already started")
	}

	// 1. 初始化输入
	if s.replayFile != "" {
		src, err := NewWavSource(s.replayFile)
		if err != nil {
			return fmt.Errorf("failed to open replay file: %w", err)
		}
		s.wavSource = src
		s.cfg.SampleRate = src.SampleRate
		s.logger.Info("replay mode", "file", s.replayFile, "rate", src.SampleRate, "channels", src.Channels)
	}

	detector, err := Detection.NewEdgeDetector(s.cfg)
	if err != nil {
		s.closeSource()
		return err
	}
	s.detector = detector

	if s.recordFile != "" && s.replayFile == "" {
		s.wavWriter, err = NewClipWriter(s.recordFile, s.cfg.SampleRate)
		if err != nil {
			s.closeSource()
			return fmt.Errorf("failed to create wav file: %w", err)
		}
		s.logger.Info("recording audio", "file", s.recordFile)
	}

	// 2. 投递协程
	s.drain.Add(1)
	go s.runDrain()

	// 3. 启动音频流
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	if s.wavSource != nil {
		s.producer.Add(1)
		go s.runReplayLoop(ctx)
		return nil
	}

	if err := s.startAudioCapture(); err != nil {
		s.Stop()
		return err
	}
	return nil
}

// Stop 停止系统并释放资源，可以重复调用
func (s *SwitchSystem) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.audioCapture != nil {
			s.audioCapture.Stop()
		}
		s.producer.Wait()

		// 生产者都停了才能关队列
		close(s.presses)
		s.drain.Wait()

		if p := s.recordErr.Load(); p != nil {
			errs = append(errs, fmt.Errorf("recording stopped after %d samples: %w", s.wavWriter.Written(), *p))
		}
		if s.wavWriter != nil {
			if err := s.wavWriter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close recording: %w", err))
			} else {
				s.logger.Info("recording saved", "file", s.recordFile, "samples", s.wavWriter.Written())
			}
		}
		if err := s.tracer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace: %w", err))
		}
		s.closeSource()
		s.markDone()
	})
	return errors.Join(errs...)
}

// Stats 返回运行统计
func (s *SwitchSystem) Stats() Stats {
	st := Stats{
		Blocks:  s.blocks.Load(),
		Presses: s.delivered.Load(),
		Dropped: s.dropped.Load(),
	}
	if s.detector != nil {
		st.Samples = s.detector.SamplesSeen()
	}
	if s.audioCapture != nil {
		st.ShareMode = s.audioCapture.ShareMode
	}
	return st
}

func (s *SwitchSystem) closeSource() {
	if s.wavSource != nil {
		_ = s.wavSource.Close()
		s.wavSource = nil
	}
}

func (s *SwitchSystem) markDone() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// 内部：处理音频块，运行在音频线程上
func (s *SwitchSystem) processAudioChunk(samples []float32) {
	start := time.Now()

	// 录音
	if s.wavWriter != nil && s.recordErr.Load() == nil {
		if err := s.wavWriter.WriteSamples(samples); err != nil {
			s.recordErr.Store(&err)
			s.metrics.RecordSinkError(context.Background(), "recording")
		}
	}

	offset, pressed := s.detector.Process(samples)
	blockStart := s.samples
	s.samples += int64(len(samples))
	block := s.blocks.Add(1)

	ctx := context.Background()
	s.metrics.Blocks.Add(ctx, 1)
	s.metrics.BlockDuration.Record(ctx, time.Since(start).Seconds())

	if _, isNoop := s.tracer.(NoOpTracer); !isNoop {
		s.traceBlock(block, blockStart, samples, offset, pressed)
	}
	if !pressed {
		return
	}

	s.seq++
	p := Press{Seq: s.seq, Sample: blockStart + int64(offset), Time: start}

	// 非阻塞入队，音频线程不能等，也不写日志；丢弃只计数
	select {
	case s.presses <- p:
		s.metrics.QueueDepth.Add(ctx, 1)
	default:
		s.dropped.Add(1)
		s.metrics.DroppedPresses.Add(ctx, 1)
	}
}

func (s *SwitchSystem) traceBlock(block, start int64, samples []float32, offset int, pressed bool) {
	st := s.detector.State()
	upper, lower := s.detector.Thresholds()
	t := BlockTrace{
		Block:    block,
		Start:    start,
		Length:   len(samples),
		Bias:     st.Bias,
		Upper:    upper,
		Lower:    lower,
		Armed:    st.Armed,
		Cooldown: st.Cooldown,
		Pressed:  pressed,
		Offset:   -1,
	}
	if len(samples) > 0 {
		t.Min = samples[0]
		for _, v := range samples[1:] {
			t.Min = min(t.Min, v)
		}
	}
	if pressed {
		t.Offset = offset
	}
	s.tracer.Record(t)
}

// 内部：投递协程，把按下交给回调和各个 sink
func (s *SwitchSystem) runDrain() {
	defer s.drain.Done()
	ctx := context.Background()
	var last uint64
	for p := range s.presses {
		s.metrics.QueueDepth.Add(ctx, -1)
		if p.Seq > last+1 {
			s.logger.Warn("press queue was full, presses dropped", "count", p.Seq-last-1, "before_seq", p.Seq)
		}
		last = p.Seq
		s.logger.Debug("press", "seq", p.Seq, "t", float64(p.Sample)/float64(s.cfg.SampleRate), "idx", p.Sample)
		if s.onPress != nil {
			s.onPress()
		}
		for _, ns := range s.sinks {
			if err := ns.sink.Notify(p); err != nil {
				s.metrics.RecordSinkError(ctx, ns.name)
				s.logger.Warn("press delivery failed", "sink", ns.name, "seq", p.Seq, "err", err)
			}
		}
		s.delivered.Add(1)
		s.metrics.Presses.Add(ctx, 1)
	}
}

// 内部：启动实时音频捕获
func (s *SwitchSystem) startAudioCapture() error {
	var err error
	s.audioCapture, err = NewAudioCapture(CaptureOptions{
		SampleRate:     s.cfg.SampleRate,
		BlockSize:      s.cfg.BlockSize,
		Device:         s.cfg.DeviceName(),
		ExclusiveFirst: s.settings.Audio.ExclusiveFirst,
	}, s.processAudioChunk)
	if err != nil {
		return fmt.Errorf("failed to init audio capture: %w", err)
	}
	return s.audioCapture.Start()
}

// 内部：运行回放循环，按块大小读取文件，可选按实时速度送块
func (s *SwitchSystem) runReplayLoop(ctx context.Context) {
	defer s.producer.Done()
	defer s.markDone()

	blockSize := s.cfg.BlockSize
	var tick <-chan time.Time
	if s.settings.Listen.ReplayPace {
		interval := time.Second * time.Duration(blockSize) / time.Duration(s.cfg.SampleRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Info("replay started", "blocksize", blockSize, "paced", tick != nil)
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}

		samples, err := s.wavSource.ReadSamples(blockSize)
		if errors.Is(err, io.EOF) {
			s.logger.Info("end of replay file", "blocks", s.blocks.Load())
			return
		}
		if err != nil {
			s.logger.Error("replay read failed", "err", err)
			return
		}
		s.processAudioChunk(samples)
	}
}
