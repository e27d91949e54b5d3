package switchkey

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWav 文件不是可解码的 PCM wav
var ErrInvalidWav = errors.New("invalid wav file")

// Clip 是一段已经解码并混成单声道的录音，采样归一化到 [-1, 1]
type Clip struct {
	SampleRate int
	Channels   int // 原文件的声道数
	Samples    []float32
}

// Seconds 返回录音时长
func (c *Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ReadClip 读取整个 wav 文件
func ReadClip(filename string) (*Clip, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWav, filename)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}

	channels := int(dec.NumChans)
	return &Clip{
		SampleRate: int(dec.SampleRate),
		Channels:   channels,
		Samples:    downmix(buf.Data, channels, int(dec.BitDepth)),
	}, nil
}

// WavSource 按块读取 wav 文件，用于回放模式
type WavSource struct {
	file       *os.File
	dec        *wav.Decoder
	buf        *audio.IntBuffer
	SampleRate int
	Channels   int
	bitDepth   int
}

// NewWavSource 打开 wav 文件并定位到数据段
func NewWavSource(filename string) (*WavSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidWav, filename)
	}
	return &WavSource{
		file:       f,
		dec:        dec,
		buf:        &audio.IntBuffer{Format: dec.Format()},
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		bitDepth:   int(dec.BitDepth),
	}, nil
}

// ReadSamples 读取最多 frames 帧，返回单声道数据；读完时返回 io.EOF
func (r *WavSource) ReadSamples(frames int) ([]float32, error) {
	channels := max(r.Channels, 1)
	if cap(r.buf.Data) < frames*channels {
		r.buf.Data = make([]int, frames*channels)
	}
	r.buf.Data = r.buf.Data[:frames*channels]

	n, err := r.dec.PCMBuffer(r.buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, io.EOF
	}
	// 文件末尾可能只剩半帧
	n -= n % channels
	return downmix(r.buf.Data[:n], channels, r.bitDepth), nil
}

func (r *WavSource) Close() error {
	return r.file.Close()
}

// downmix 把交错的整数采样按声道平均，并按位深归一化
func downmix(data []int, channels, bitDepth int) []float32 {
	channels = max(channels, 1)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))
	out := make([]float32, len(data)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = float32(float64(sum) / float64(channels) / scale)
	}
	return out
}

// ClipWriter 把单声道 float32 采样写成 16-bit PCM wav
type ClipWriter struct {
	file    *os.File
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	written int
}

// NewClipWriter 创建新的 wav 写入器
func NewClipWriter(filename string, sampleRate int) (*ClipWriter, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &ClipWriter{
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// WriteSamples 写入音频采样数据，超出 [-1, 1] 的部分限幅
func (w *ClipWriter) WriteSamples(samples []float32) error {
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		s = min(max(s, -1), 1)
		w.buf.Data[i] = int(s * 32767)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return err
	}
	w.written += len(samples)
	return nil
}

// Written 返回已经写入的采样数
func (w *ClipWriter) Written() int {
	return w.written
}

// Close 回写 wav 头并关闭文件
func (w *ClipWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// WriteClip 一次性保存整段录音
func WriteClip(filename string, sampleRate int, samples []float32) error {
	w, err := NewClipWriter(filename, sampleRate)
	if err != nil {
		return err
	}
	if err := w.WriteSamples(samples); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
