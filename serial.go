package switchkey

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// 串口 HID 桥的帧格式: FE FE [To] [From] [Cmd] [Data...] FD
// Data 一律用 BCD 编码，保证不会出现帧尾字节
const (
	FramePreamble = 0xFE
	FrameEnd      = 0xFD
	AddrBridge    = 0x70 // HID 桥默认地址
	AddrHost      = 0xE0 // 主机默认地址

	CmdPress   = 0x50 // 按下一次开关，Data = 序号 (4 位 BCD)
	CmdVersion = 0x19 // 查询固件版本，应答 Data = 主版本 次版本 (BCD)
)

// ErrPortClosed 串口还没打开或已经关闭
var ErrPortClosed = errors.New("serial port not open")

// SerialPort 定义串口操作接口，方便测试 Mock
type SerialPort interface {
	io.ReadWriteCloser
}

// SerialNotifier 把检测到的按下转发给串口 HID 桥，由桥去模拟键盘按键
type SerialNotifier struct {
	Port     string
	BaudRate int

	mu   sync.Mutex
	conn SerialPort
}

// NewSerialNotifier 创建新的串口转发器
func NewSerialNotifier(port string, baudRate int) *SerialNotifier {
	return &SerialNotifier{
		Port:     port,
		BaudRate: baudRate,
	}
}

// Open 打开串口连接
func (c *SerialNotifier) Open() error {
	config := &serial.Config{
		Name:        c.Port,
		Baud:        c.BaudRate,
		ReadTimeout: time.Millisecond * 500,
	}
	s, err := serial.OpenPort(config)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Port, err)
	}
	c.mu.Lock()
	c.conn = s
	c.mu.Unlock()
	return nil
}

// Close 关闭串口连接
func (c *SerialNotifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendCommand 发送一帧命令
func (c *SerialNotifier) SendCommand(cmd byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrame(cmd, data)
}

func (c *SerialNotifier) writeFrame(cmd byte, data []byte) error {
	if c.conn == nil {
		return ErrPortClosed
	}
	frame := []byte{FramePreamble, FramePreamble, AddrBridge, AddrHost, cmd}
	frame = append(frame, data...)
	frame = append(frame, FrameEnd)

	_, err := c.conn.Write(frame)
	return err
}

// Notify 实现 PressSink: 每次按下发送一帧 CmdPress，序号取后 4 位
func (c *SerialNotifier) Notify(p Press) error {
	seq := int(p.Seq % 10000)
	return c.SendCommand(CmdPress, []byte{decimalToBCD(seq / 100), decimalToBCD(seq % 100)})
}

// Version 查询桥的固件版本
func (c *SerialNotifier) Version() (major, minor int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeFrame(CmdVersion, nil); err != nil {
		return 0, 0, err
	}
	resp, err := c.readResponse(CmdVersion)
	if err != nil {
		return 0, 0, err
	}
	if len(resp) < 2 {
		return 0, 0, fmt.Errorf("invalid version data: %s", hex.EncodeToString(resp))
	}
	return bcdToDecimal(resp[0]), bcdToDecimal(resp[1]), nil
}

// readResponse 读取并解析应答帧，返回 Data 部分。
// 桥会回显我们发出的帧，所以按地址方向查找。
func (c *SerialNotifier) readResponse(expectedCmd byte) ([]byte, error) {
	buf := make([]byte, 256)
	n, err := c.conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("timeout or no data")
	}

	data := buf[:n]
	header := []byte{FramePreamble, FramePreamble, AddrHost, AddrBridge, expectedCmd}
	idx := bytes.Index(data, header)
	if idx == -1 {
		return nil, fmt.Errorf("response header not found in: %s", hex.EncodeToString(data))
	}

	frame := data[idx:]
	endIdx := bytes.IndexByte(frame, FrameEnd)
	if endIdx == -1 {
		return nil, errors.New("frame end not found")
	}
	return frame[len(header):endIdx], nil
}

func bcdToDecimal(b byte) int {
	return int((b>>4)*10 + (b & 0x0F))
}

func decimalToBCD(v int) byte {
	return byte((v/10)<<4 | v%10)
}
