package switchkey

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchkey/Detection"
	"switchkey/Simulator"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func testSystem(t *testing.T, queue int) *SwitchSystem {
	t.Helper()
	settings := DefaultSettings()
	settings.Listen.QueueSize = queue
	settings.Listen.ReplayPace = false

	cfg := Detection.DefaultConfig()
	cfg.SampleRate = 8000
	sys, err := NewSwitchSystem(cfg, settings, quietLogger())
	require.NoError(t, err)
	return sys
}

// writeSession 生成一段模拟录音并保存成 wav，返回路径和写入后再读回的采样
func writeSession(t *testing.T, cfg Simulator.SessionConfig) (string, []float32) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.wav")
	session := Simulator.Generate(cfg)
	require.NoError(t, WriteClip(path, cfg.SampleRate, session.Samples))
	clip, err := ReadClip(path)
	require.NoError(t, err)
	return path, clip.Samples
}

type pressRecorder struct {
	mu      sync.Mutex
	presses []Press
}

func (r *pressRecorder) Notify(p Press) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presses = append(r.presses, p)
	return nil
}

func (r *pressRecorder) samples() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.presses))
	for i, p := range r.presses {
		out[i] = int(p.Sample)
	}
	return out
}

func TestSwitchSystem_ReplayMatchesOfflineReplay(t *testing.T) {
	path, samples := writeSession(t, Simulator.DefaultSessionConfig(8000))

	sys := testSystem(t, 64)
	sys.SetReplayFile(path)
	rec := &pressRecorder{}
	sys.AddSink("recorder", rec)
	callbacks := 0
	sys.OnPress(func() { callbacks++ })

	require.NoError(t, sys.Start(context.Background()))
	select {
	case <-sys.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("replay did not finish")
	}
	require.NoError(t, sys.Stop())

	want, err := Detection.ReplayConfig(samples, sys.Config())
	require.NoError(t, err)
	require.Len(t, want, 10)
	assert.Equal(t, want, rec.samples())
	assert.Equal(t, 10, callbacks)

	for i, p := range rec.presses {
		assert.Equal(t, uint64(i+1), p.Seq)
	}

	st := sys.Stats()
	assert.Equal(t, int64(10), st.Presses)
	assert.Equal(t, int64(0), st.Dropped)
	assert.Equal(t, int64(len(samples)), st.Samples)
}

func TestSwitchSystem_FullQueueDropsPresses(t *testing.T) {
	session := Simulator.Generate(Simulator.DefaultSessionConfig(8000))
	sys := testSystem(t, 1)

	m, reader := newTestMetrics(t)
	sys.SetMetrics(m)

	// 音频线程上不写日志，丢弃只计数
	var logs bytes.Buffer
	sys.logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// 不启动投递协程，直接喂音频: 队列只能放下第一次按下
	detector, err := Detection.NewEdgeDetector(sys.Config())
	require.NoError(t, err)
	sys.detector = detector
	for _, block := range Simulator.Blocks(session.Samples, 256) {
		sys.processAudioChunk(block)
	}
	assert.Empty(t, logs.String())

	st := sys.Stats()
	assert.Equal(t, int64(9), st.Dropped)
	assert.Len(t, sys.presses, 1)
	first := <-sys.presses
	assert.Equal(t, uint64(1), first.Seq)

	rm := collect(t, reader)
	assert.Equal(t, int64(9), sumInt64(t, rm, "switchkey.presses.dropped"))
	assert.Equal(t, int64(len(Simulator.Blocks(session.Samples, 256))), sumInt64(t, rm, "switchkey.blocks"))
}

func TestSwitchSystem_SinkErrorsDoNotStopDelivery(t *testing.T) {
	path, _ := writeSession(t, Simulator.DefaultSessionConfig(8000))

	sys := testSystem(t, 64)
	m, reader := newTestMetrics(t)
	sys.SetMetrics(m)
	sys.SetReplayFile(path)
	sys.AddSink("broken", PressSinkFunc(func(Press) error { return errors.New("unplugged") }))
	rec := &pressRecorder{}
	sys.AddSink("recorder", rec)

	require.NoError(t, sys.Start(context.Background()))
	<-sys.Done()
	require.NoError(t, sys.Stop())

	assert.Len(t, rec.samples(), 10)
	rm := collect(t, reader)
	assert.Equal(t, int64(10), sumInt64(t, rm, "switchkey.sink.errors"))
	assert.Equal(t, int64(10), sumInt64(t, rm, "switchkey.presses"))
	assert.Equal(t, int64(0), sumInt64(t, rm, "switchkey.press_queue.depth"))
}

type memTracer struct {
	rows   []BlockTrace
	closed bool
}

func (m *memTracer) Record(t BlockTrace) { m.rows = append(m.rows, t) }
func (m *memTracer) Close() error        { m.closed = true; return nil }

func TestSwitchSystem_TraceEveryBlock(t *testing.T) {
	path, samples := writeSession(t, Simulator.DefaultSessionConfig(8000))

	sys := testSystem(t, 64)
	sys.SetReplayFile(path)
	tr := &memTracer{}
	sys.SetTracer(tr)

	require.NoError(t, sys.Start(context.Background()))
	<-sys.Done()
	require.NoError(t, sys.Stop())

	assert.True(t, tr.closed)
	require.Len(t, tr.rows, (len(samples)+255)/256)
	pressed := 0
	for i, row := range tr.rows {
		assert.Equal(t, int64(i+1), row.Block)
		assert.Equal(t, int64(i*256), row.Start)
		assert.Less(t, row.Lower, row.Upper)
		if row.Pressed {
			pressed++
			assert.GreaterOrEqual(t, row.Offset, 0)
		} else {
			assert.Equal(t, -1, row.Offset)
		}
	}
	assert.Equal(t, 10, pressed)
}

func TestSwitchSystem_StopBeforeReplayEnds(t *testing.T) {
	path, _ := writeSession(t, Simulator.DefaultSessionConfig(8000))

	sys := testSystem(t, 64)
	sys.settings.Listen.ReplayPace = true
	sys.SetReplayFile(path)

	require.NoError(t, sys.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sys.Stop())
	require.NoError(t, sys.Stop())

	select {
	case <-sys.Done():
	default:
		t.Fatal("done channel not closed after Stop")
	}
}

func TestSwitchSystem_RejectsBadInput(t *testing.T) {
	cfg := Detection.DefaultConfig()
	cfg.UpperOffset = cfg.LowerOffset
	_, err := NewSwitchSystem(cfg, nil, quietLogger())
	assert.ErrorIs(t, err, Detection.ErrConfig)

	sys := testSystem(t, 4)
	sys.SetReplayFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, sys.Start(context.Background()))
}

func TestCsvTracer_WritesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	tr, err := NewCsvTracer(path)
	require.NoError(t, err)
	tr.Record(BlockTrace{Block: 1, Start: 0, Length: 256, Armed: true, Offset: -1})
	tr.Record(BlockTrace{Block: 2, Start: 256, Length: 256, Pressed: true, Offset: 17})
	require.NoError(t, tr.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Block,Start,Length,Min,Bias,Upper,Lower,Armed,Cooldown,Pressed,Offset", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,0,256,"))
	assert.True(t, strings.HasSuffix(lines[2], ",0,0,1,17"))
}

func TestSwitchSystem_DrainReportsDroppedPresses(t *testing.T) {
	sys := testSystem(t, 4)
	var logs bytes.Buffer
	sys.logger = slog.New(slog.NewTextHandler(&logs, nil))

	sys.presses <- Press{Seq: 1}
	sys.presses <- Press{Seq: 5}
	close(sys.presses)
	sys.drain.Add(1)
	sys.runDrain()

	assert.Equal(t, int64(2), sys.delivered.Load())
	assert.Contains(t, logs.String(), "presses dropped")
	assert.Contains(t, logs.String(), "count=3")
}

func TestSwitchSystem_RecordingErrorReportedOnStop(t *testing.T) {
	session := Simulator.Generate(Simulator.DefaultSessionConfig(8000))
	sys := testSystem(t, 64)
	m, reader := newTestMetrics(t)
	sys.SetMetrics(m)

	w, err := NewClipWriter(filepath.Join(t.TempDir(), "rec.wav"), 8000)
	require.NoError(t, err)
	require.NoError(t, w.file.Close()) // 模拟磁盘出错
	sys.wavWriter = w

	detector, err := Detection.NewEdgeDetector(sys.Config())
	require.NoError(t, err)
	sys.detector = detector
	blocks := Simulator.Blocks(session.Samples, 256)
	for _, block := range blocks {
		sys.processAudioChunk(block)
	}

	// 录音失败不影响检测
	assert.Equal(t, int64(len(blocks)), sys.Stats().Blocks)
	assert.Len(t, sys.presses, 10)

	err = sys.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording stopped after 0 samples")

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumInt64(t, rm, "switchkey.sink.errors"), "latched once, not per block")
}
