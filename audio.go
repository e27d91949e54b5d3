package switchkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// ErrDeviceOpen 独占和共享模式都打不开输入设备
var ErrDeviceOpen = errors.New("failed to open audio input device")

// AudioCallback 定义音频数据回调函数类型，samples 只在回调期间有效
type AudioCallback func(samples []float32)

// CaptureOptions 描述要打开的输入流
type CaptureOptions struct {
	SampleRate     int
	BlockSize      int    // 回调收到的块大小 (帧)
	Device         string // 设备名的一部分，不区分大小写；空表示系统默认
	ExclusiveFirst bool   // 先尝试独占模式
}

// AudioCapture 管理音频捕获
type AudioCapture struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	SampleRate int
	ShareMode  string // 实际打开的模式: exclusive 或 shared
	Callback   AudioCallback
	blocks     *blockAssembler
}

// NewAudioCapture 创建新的音频捕获实例。
// 设备按 PeriodSizeInFrames = BlockSize 打开，但后端不保证每次回调正好一个周期，
// 所以回调数据先经过 blockAssembler 切成固定大小的块。
func NewAudioCapture(opts CaptureOptions, callback AudioCallback) (*AudioCapture, error) {
	if opts.SampleRate <= 0 || opts.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid capture options: samplerate=%d blocksize=%d", opts.SampleRate, opts.BlockSize)
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}

	ac := &AudioCapture{
		ctx:        ctx,
		SampleRate: opts.SampleRate,
		Callback:   callback,
		blocks:     newBlockAssembler(opts.BlockSize),
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if ac.Callback == nil || len(pInputSamples) == 0 {
			return
		}
		samples := unsafe.Slice((*float32)(unsafe.Pointer(&pInputSamples[0])), int(framecount))
		ac.blocks.Push(samples, ac.Callback)
	}

	device, mode, err := openCapture(ctx, opts, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	ac.device = device
	ac.ShareMode = mode

	slog.Info("audio device initialized", "rate", device.SampleRate(), "blocksize", opts.BlockSize, "mode", mode)
	return ac, nil
}

// openCapture 按独占 -> 共享的顺序尝试打开输入设备
func openCapture(ctx *malgo.AllocatedContext, opts CaptureOptions, callbacks malgo.DeviceCallbacks) (*malgo.Device, string, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(opts.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(opts.BlockSize)
	deviceConfig.Alsa.NoMMap = 1

	if opts.Device != "" {
		info, err := findCaptureDevice(ctx, opts.Device)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDeviceOpen, err)
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		slog.Info("selected audio device", "name", info.Name())
	}

	var firstErr error
	if opts.ExclusiveFirst {
		deviceConfig.Capture.ShareMode = malgo.Exclusive
		device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
		if err == nil {
			return device, "exclusive", nil
		}
		slog.Debug("exclusive open failed, retrying shared", "err", err)
		firstErr = err
	}

	deviceConfig.Capture.ShareMode = malgo.Shared
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		if firstErr != nil {
			return nil, "", fmt.Errorf("%w: exclusive: %v; shared: %v", ErrDeviceOpen, firstErr, err)
		}
		return nil, "", fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	return device, "shared", nil
}

func findCaptureDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, err
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("no capture device matching %q", name)
}

// Start 启动音频捕获
func (ac *AudioCapture) Start() error {
	if ac.device == nil {
		return errors.New("device not initialized")
	}
	return ac.device.Start()
}

// Stop 停止音频捕获并释放资源
func (ac *AudioCapture) Stop() {
	if ac.device != nil {
		ac.device.Uninit()
		ac.device = nil
	}
	if ac.ctx != nil {
		_ = ac.ctx.Uninit()
		ac.ctx.Free()
		ac.ctx = nil
	}
}

// CheckDevice 试着按给定参数打开一次设备然后立刻关闭，
// 用来在开始监听之前给出明确的错误。
func CheckDevice(opts CaptureOptions) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	device, _, err := openCapture(ctx, opts, malgo.DeviceCallbacks{})
	if err != nil {
		return err
	}
	device.Uninit()
	return nil
}

// CaptureDevice 是一个可用输入设备的描述
type CaptureDevice struct {
	Name    string
	Default bool
}

// ListCaptureDevices 列出系统里的输入设备
func ListCaptureDevices() ([]CaptureDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	out := make([]CaptureDevice, 0, len(infos))
	for _, info := range infos {
		out = append(out, CaptureDevice{Name: info.Name(), Default: info.IsDefault != 0})
	}
	return out, nil
}

// blockAssembler 把任意长度的回调数据切成固定大小的块，不足一块的部分留到下次。
// 只在音频线程里使用，不分配内存。
type blockAssembler struct {
	buf []float32
	n   int
}

func newBlockAssembler(size int) *blockAssembler {
	return &blockAssembler{buf: make([]float32, size)}
}

// Push 追加数据，每凑满一块调用一次 emit
func (b *blockAssembler) Push(samples []float32, emit func([]float32)) {
	size := len(b.buf)
	// 缓冲为空时直接切原数据，省一次拷贝
	for b.n == 0 && len(samples) >= size {
		emit(samples[:size])
		samples = samples[size:]
	}
	for len(samples) > 0 {
		c := copy(b.buf[b.n:], samples)
		b.n += c
		samples = samples[c:]
		if b.n == size {
			emit(b.buf)
			b.n = 0
			for len(samples) >= size {
				emit(samples[:size])
				samples = samples[size:]
			}
		}
	}
}

// Pending 返回缓冲里还没凑满一块的采样数
func (b *blockAssembler) Pending() int {
	return b.n
}

// RecordClip 从输入设备录一段固定时长的音频，ctx 取消时提前结束并返回已录到的部分
func RecordClip(ctx context.Context, opts CaptureOptions, seconds float64) ([]float32, error) {
	want := int(seconds * float64(opts.SampleRate))
	if want <= 0 {
		return nil, fmt.Errorf("invalid recording length: %gs", seconds)
	}

	var mu sync.Mutex
	clip := make([]float32, 0, want)
	full := make(chan struct{})
	capture, err := NewAudioCapture(opts, func(samples []float32) {
		mu.Lock()
		defer mu.Unlock()
		if len(clip) >= want {
			return
		}
		clip = append(clip, samples[:min(len(samples), want-len(clip))]...)
		if len(clip) == want {
			close(full)
		}
	})
	if err != nil {
		return nil, err
	}
	defer capture.Stop()
	if err := capture.Start(); err != nil {
		return nil, err
	}

	select {
	case <-full:
	case <-ctx.Done():
	}
	capture.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(clip) == 0 {
		return nil, ctx.Err()
	}
	return clip, nil
}
