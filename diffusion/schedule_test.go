package diffusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNoiseScheduleCosine(t *testing.T) {
	s, err := NewNoiseSchedule(ScheduleCosine, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.Steps())
	assert.Equal(t, ScheduleCosine, s.Kind())

	prev := 1.0
	for i := 0; i < s.Steps(); i++ {
		ac := s.AlphasCumprod(i)
		assert.Less(t, ac, prev, "alphas_cumprod must strictly decrease at t=%d", i)
		assert.Greater(t, ac, 0.0)
		assert.InDelta(t, math.Sqrt(ac), s.SqrtAlphasCumprod(i), 1e-12)
		assert.LessOrEqual(t, s.Beta(i), maxBeta)
		prev = ac
	}
	// first step barely noises the data, the last almost destroys it
	assert.Greater(t, s.AlphasCumprod(0), 0.999)
	assert.Less(t, s.AlphasCumprod(999), 1e-3)
}

func TestNoiseScheduleKinds(t *testing.T) {
	lin, err := NewNoiseSchedule(ScheduleLinear, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 1e-4, lin.Beta(0), 1e-12)
	assert.InDelta(t, 0.02, lin.Beta(999), 1e-12)

	sl, err := NewNoiseSchedule(ScheduleScaledLinear, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0.00085, sl.Beta(0), 1e-12)
	assert.InDelta(t, 0.012, sl.Beta(999), 1e-12)

	one, err := NewNoiseSchedule(ScheduleLinear, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1-1e-4, one.AlphasCumprod(0), 1e-12)
}

func TestNoiseScheduleErrors(t *testing.T) {
	_, err := NewNoiseSchedule("sigmoid", 10)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewNoiseSchedule(ScheduleCosine, 0)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewNoiseSchedule(ScheduleCosine, -5)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNoiseScheduleTableIsCopy(t *testing.T) {
	s, err := NewNoiseSchedule(ScheduleCosine, 10)
	require.NoError(t, err)
	ac, sqrtAC := s.Table()
	require.Len(t, ac, 10)
	require.Len(t, sqrtAC, 10)
	ac[0], sqrtAC[0] = -1, -1
	assert.Greater(t, s.AlphasCumprod(0), 0.0)
	assert.Greater(t, s.SqrtAlphasCumprod(0), 0.0)
}

func TestNoiseScheduleMonotoneAnyLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		steps := rapid.IntRange(1, 2000).Draw(t, "steps")
		kind := rapid.SampledFrom([]ScheduleKind{ScheduleCosine, ScheduleLinear, ScheduleScaledLinear}).Draw(t, "kind")
		s, err := NewNoiseSchedule(kind, steps)
		if err != nil {
			t.Fatalf("NewNoiseSchedule(%s, %d): %v", kind, steps, err)
		}
		prev := 1.0
		for i := 0; i < steps; i++ {
			ac := s.AlphasCumprod(i)
			if !(ac > 0 && ac < prev) {
				t.Fatalf("%s T=%d: alphas_cumprod[%d]=%v after %v", kind, steps, i, ac, prev)
			}
			prev = ac
		}
	})
}

func TestAddNoise(t *testing.T) {
	s, err := NewNoiseSchedule(ScheduleCosine, 100)
	require.NoError(t, err)
	img := TensorFrom([]float32{1, -1, 0.5, 0}, []int{1, 1, 2, 2})
	eps := TensorFrom([]float32{0.3, -2, 1, 0}, []int{1, 1, 2, 2})

	const step = 40
	noisy, noise := s.AddNoise(img, step, eps)
	ac, sq := float32(s.AlphasCumprod(step)), float32(s.SqrtAlphasCumprod(step))
	for i := range img.Data {
		assert.InDelta(t, eps.Data[i]*sq, noise.Data[i], 1e-6)
		assert.InDelta(t, img.Data[i]*ac+eps.Data[i]*sq, noisy.Data[i], 1e-6)
	}
	assert.Equal(t, []float32{1, -1, 0.5, 0}, img.Data, "input must not be modified")
}

func TestNoiseScheduleString(t *testing.T) {
	s, err := NewNoiseSchedule(ScheduleLinear, 10)
	require.NoError(t, err)
	assert.Contains(t, s.String(), "linear schedule, T=10")
}
