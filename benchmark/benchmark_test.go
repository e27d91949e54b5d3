package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	onsets := []int{100, 1000, 2000}

	p, r := Score(onsets, []int{105, 1003, 2010}, 20)
	assert.Equal(t, 1.0, p)
	assert.Equal(t, 1.0, r)

	// 一次漏检加一次抖动重复
	p, r = Score(onsets, []int{105, 110, 2010}, 20)
	assert.InDelta(t, 2.0/3.0, p, 1e-9)
	assert.InDelta(t, 2.0/3.0, r, 1e-9)

	p, r = Score(onsets, nil, 20)
	assert.Equal(t, 1.0, p)
	assert.Equal(t, 0.0, r)
}
