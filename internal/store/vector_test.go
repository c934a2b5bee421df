package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)

	assert.Equal(t, 2.0, CosineDistance([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 2.0, CosineDistance([]float32{0, 0}, []float32{1, 2}))
	assert.Equal(t, 2.0, CosineDistance(nil, nil))
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[0.5,-1.25,3]", formatVector([]float32{0.5, -1.25, 3}))
	assert.Equal(t, "[]", formatVector(nil))
}
