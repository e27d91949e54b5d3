package switchkey

import (
	"bufio"
	"fmt"
	"os"
)

// BlockTrace 是一个音频块处理完之后的检测器快照
type BlockTrace struct {
	Block    int64   // 块序号
	Start    int64   // 块首采样的绝对下标
	Length   int
	Min      float32 // 块内最小值
	Bias     float64
	Upper    float64 // 动态上阈值
	Lower    float64
	Armed    bool
	Cooldown int
	Pressed  bool
	Offset   int // 按下在块内的位置，没有按下时为 -1
}

// DetectorTracer 定义跟踪接口
// SwitchSystem 只依赖这个接口，不依赖具体的文件操作
type DetectorTracer interface {
	Record(t BlockTrace)
	Close() error
}

// CsvTracer 把每个块写成一行 CSV，用来离线画图排查误触发
type CsvTracer struct {
	file   *os.File
	writer *bufio.Writer
}

// NewCsvTracer 创建一个新的 CSV 跟踪文件
func NewCsvTracer(filename string) (*CsvTracer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(f)
	// 写入表头
	if _, err := w.WriteString("Block,Start,Length,Min,Bias,Upper,Lower,Armed,Cooldown,Pressed,Offset\n"); err != nil {
		f.Close()
		return nil, err
	}

	return &CsvTracer{
		file:   f,
		writer: w,
	}, nil
}

// Record 记录一个块
func (d *CsvTracer) Record(t BlockTrace) {
	fmt.Fprintf(d.writer, "%d,%d,%d,%f,%f,%f,%f,%d,%d,%d,%d\n",
		t.Block, t.Start, t.Length, t.Min, t.Bias, t.Upper, t.Lower,
		boolToInt(t.Armed), t.Cooldown, boolToInt(t.Pressed), t.Offset)
}

// Close 刷新缓冲区并关闭文件
func (d *CsvTracer) Close() error {
	var err error
	if d.writer != nil {
		err = d.writer.Flush()
	}
	if d.file != nil {
		if cerr := d.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NoOpTracer 是一个空实现，不记录跟踪时使用
// 这样可以避免在回调里写大量的 if tracer != nil 判断
type NoOpTracer struct{}

func (NoOpTracer) Record(BlockTrace) {}
func (NoOpTracer) Close() error      { return nil }
