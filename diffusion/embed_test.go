package diffusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepEmbedding(t *testing.T) {
	e := StepEmbedding(0, 8, 3)
	assert.Equal(t, []int{3, 8}, e.Shape)
	for b := 0; b < 3; b++ {
		row := e.Data[b*8 : (b+1)*8]
		assert.Equal(t, []float32{1, 1, 1, 1, 0, 0, 0, 0}, row)
	}

	e = StepEmbedding(5, 4, 1)
	assert.InDelta(t, math.Cos(5), e.Data[0], 1e-6)
	assert.InDelta(t, math.Cos(5*0.01), e.Data[1], 1e-6) // 10000^(-1/2)
	assert.InDelta(t, math.Sin(5), e.Data[2], 1e-6)
	assert.InDelta(t, math.Sin(5*0.01), e.Data[3], 1e-6)
}

func TestStepEmbeddingDistinguishesSteps(t *testing.T) {
	a := StepEmbedding(10, 16, 1)
	b := StepEmbedding(11, 16, 1)
	assert.NotEqual(t, a.Data, b.Data)
	assert.Empty(t, StepEmbedding(3, 0, 2).Data)
}
