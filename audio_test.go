package switchkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ramp(n, from int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}

func TestBlockAssembler_FixedBlocks(t *testing.T) {
	b := newBlockAssembler(4)
	var got [][]float32
	emit := func(block []float32) {
		got = append(got, append([]float32(nil), block...))
	}

	b.Push(ramp(3, 0), emit)
	assert.Empty(t, got)
	assert.Equal(t, 3, b.Pending())

	b.Push(ramp(7, 3), emit)
	assert.Equal(t, [][]float32{
		{0, 1, 2, 3},
		{4, 5, 6, 7},
	}, got)
	assert.Equal(t, 2, b.Pending())

	b.Push(ramp(10, 10), emit)
	assert.Equal(t, []float32{8, 9, 10, 11}, got[2])
	assert.Equal(t, []float32{12, 13, 14, 15}, got[3])
	assert.Equal(t, []float32{16, 17, 18, 19}, got[4])
	assert.Equal(t, 0, b.Pending())
}

func TestBlockAssembler_PassThrough(t *testing.T) {
	b := newBlockAssembler(4)
	var sizes []int
	b.Push(ramp(8, 0), func(block []float32) { sizes = append(sizes, len(block)) })
	assert.Equal(t, []int{4, 4}, sizes)
	assert.Equal(t, 0, b.Pending())
}

func TestCaptureOptions_Invalid(t *testing.T) {
	_, err := NewAudioCapture(CaptureOptions{SampleRate: 0, BlockSize: 256}, nil)
	assert.Error(t, err)
	_, err = NewAudioCapture(CaptureOptions{SampleRate: 44100, BlockSize: 0}, nil)
	assert.Error(t, err)
}
