package switchkey

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSerialPort 模拟串口
type MockSerialPort struct {
	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer
	Closed      bool
}

func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{
		ReadBuffer:  new(bytes.Buffer),
		WriteBuffer: new(bytes.Buffer),
	}
}

func (m *MockSerialPort) Read(p []byte) (n int, err error) {
	return m.ReadBuffer.Read(p)
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	return m.WriteBuffer.Write(p)
}

func (m *MockSerialPort) Close() error {
	m.Closed = true
	return nil
}

// 辅助函数：生成桥的应答帧
func makeResponseFrame(cmd byte, data []byte) []byte {
	frame := []byte{FramePreamble, FramePreamble, AddrHost, AddrBridge, cmd}
	frame = append(frame, data...)
	return append(frame, FrameEnd)
}

func TestSerialNotifier_SendCommand(t *testing.T) {
	mockPort := NewMockSerialPort()
	client := &SerialNotifier{conn: mockPort}

	require.NoError(t, client.SendCommand(CmdVersion, nil))
	assert.Equal(t, []byte{0xFE, 0xFE, 0x70, 0xE0, 0x19, 0xFD}, mockPort.WriteBuffer.Bytes())
}

func TestSerialNotifier_NotifyEncodesSequence(t *testing.T) {
	mockPort := NewMockSerialPort()
	client := &SerialNotifier{conn: mockPort}

	require.NoError(t, client.Notify(Press{Seq: 1234}))
	assert.Equal(t, []byte{0xFE, 0xFE, 0x70, 0xE0, 0x50, 0x12, 0x34, 0xFD}, mockPort.WriteBuffer.Bytes())

	// 只保留后 4 位
	mockPort.WriteBuffer.Reset()
	require.NoError(t, client.Notify(Press{Seq: 10007}))
	assert.Equal(t, []byte{0xFE, 0xFE, 0x70, 0xE0, 0x50, 0x00, 0x07, 0xFD}, mockPort.WriteBuffer.Bytes())
}

func TestSerialNotifier_Version(t *testing.T) {
	mockPort := NewMockSerialPort()
	client := &SerialNotifier{conn: mockPort}

	// 先是回显，然后才是应答
	mockPort.ReadBuffer.Write([]byte{0xFE, 0xFE, 0x70, 0xE0, 0x19, 0xFD})
	mockPort.ReadBuffer.Write(makeResponseFrame(CmdVersion, []byte{0x02, 0x15}))

	major, minor, err := client.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, major)
	assert.Equal(t, 15, minor)
}

func TestSerialNotifier_VersionErrors(t *testing.T) {
	mockPort := NewMockSerialPort()
	client := &SerialNotifier{conn: mockPort}

	_, _, err := client.Version()
	assert.Error(t, err, "no data")

	mockPort.ReadBuffer.Write([]byte{0x00, 0x11, 0x22})
	_, _, err = client.Version()
	assert.ErrorContains(t, err, "header not found")

	mockPort.ReadBuffer.Write(makeResponseFrame(CmdVersion, []byte{0x01}))
	_, _, err = client.Version()
	assert.ErrorContains(t, err, "invalid version data")
}

func TestSerialNotifier_Closed(t *testing.T) {
	client := NewSerialNotifier("/dev/null", 9600)
	assert.ErrorIs(t, client.Notify(Press{Seq: 1}), ErrPortClosed)
	assert.NoError(t, client.Close())

	mockPort := NewMockSerialPort()
	client.conn = mockPort
	require.NoError(t, client.Close())
	assert.True(t, mockPort.Closed)
	assert.ErrorIs(t, client.SendCommand(CmdPress, nil), ErrPortClosed)
}

func TestBCD(t *testing.T) {
	for v := 0; v < 100; v++ {
		assert.Equal(t, v, bcdToDecimal(decimalToBCD(v)))
	}
	assert.Equal(t, byte(0x99), decimalToBCD(99))
}
