package diffusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ScheduleKind names a beta schedule.
type ScheduleKind string

const (
	ScheduleCosine       ScheduleKind = "cosine"
	ScheduleLinear       ScheduleKind = "linear"
	ScheduleScaledLinear ScheduleKind = "scaled_linear"
)

const (
	cosineOffset = 0.008
	maxBeta      = 0.999
)

// NoiseSchedule holds the per-step mixing coefficients. Tables are filled once by
// NewNoiseSchedule and only read afterwards.
type NoiseSchedule struct {
	kind              ScheduleKind
	betas             []float64
	alphasCumprod     []float64
	sqrtAlphasCumprod []float64
}

// NewNoiseSchedule derives betas from the schedule kind, then
// alphas_cumprod = cumprod(1 - betas) and its square root.
func NewNoiseSchedule(kind ScheduleKind, steps int) (*NoiseSchedule, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("%w: diffusion steps must be positive, got %d", ErrConfig, steps)
	}

	var betas []float64
	switch kind {
	case ScheduleCosine:
		betas = cosineBetas(steps)
	case ScheduleLinear:
		betas = linspace(1e-4, 0.02, steps)
	case ScheduleScaledLinear:
		// scaled_linear: betas = linspace(sqrt(start), sqrt(end), steps)^2
		betas = linspace(math.Sqrt(0.00085), math.Sqrt(0.012), steps)
		for i, b := range betas {
			betas[i] = b * b
		}
	default:
		return nil, fmt.Errorf("%w: unknown beta schedule %q", ErrConfig, kind)
	}

	alphas := make([]float64, steps)
	for i, b := range betas {
		alphas[i] = 1.0 - b
	}
	alphasCumprod := make([]float64, steps)
	floats.CumProd(alphasCumprod, alphas)

	sqrtAlphasCumprod := make([]float64, steps)
	for i, a := range alphasCumprod {
		sqrtAlphasCumprod[i] = math.Sqrt(a)
	}

	return &NoiseSchedule{
		kind:              kind,
		betas:             betas,
		alphasCumprod:     alphasCumprod,
		sqrtAlphasCumprod: sqrtAlphasCumprod,
	}, nil
}

// cosineBetas: alpha_bar(t) = cos^2(((t/T)+s)/(1+s) * pi/2), beta_t = 1 - alpha_bar(t+1)/alpha_bar(t)
func cosineBetas(steps int) []float64 {
	f := func(t int) float64 {
		x := (float64(t)/float64(steps) + cosineOffset) / (1 + cosineOffset) * math.Pi / 2
		c := math.Cos(x)
		return c * c
	}
	betas := make([]float64, steps)
	for t := 0; t < steps; t++ {
		betas[t] = math.Min(1-f(t+1)/f(t), maxBeta)
	}
	return betas
}

func linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	return floats.Span(out, start, end)
}

func (s *NoiseSchedule) Kind() ScheduleKind { return s.kind }

// Steps is the number of diffusion steps T.
func (s *NoiseSchedule) Steps() int { return len(s.alphasCumprod) }

func (s *NoiseSchedule) Beta(t int) float64 { return s.betas[t] }

func (s *NoiseSchedule) AlphasCumprod(t int) float64 { return s.alphasCumprod[t] }

func (s *NoiseSchedule) SqrtAlphasCumprod(t int) float64 { return s.sqrtAlphasCumprod[t] }

// Table returns copies of alphas_cumprod and sqrt_alphas_cumprod.
func (s *NoiseSchedule) Table() (alphasCumprod, sqrtAlphasCumprod []float64) {
	alphasCumprod = append([]float64(nil), s.alphasCumprod...)
	sqrtAlphasCumprod = append([]float64(nil), s.sqrtAlphasCumprod...)
	return alphasCumprod, sqrtAlphasCumprod
}

// AddNoise mixes an image batch for step t:
//
//	noise = randn * sqrt_alphas_cumprod[t]
//	noisy = image * alphas_cumprod[t] + noise
//
// The returned noise is the regression target.
func (s *NoiseSchedule) AddNoise(images *Tensor, t int, eps *Tensor) (noisy, noise *Tensor) {
	noise = Scale(eps, float32(s.sqrtAlphasCumprod[t]))
	noisy = Add(Scale(images, float32(s.alphasCumprod[t])), noise)
	return noisy, noise
}

func (s *NoiseSchedule) String() string {
	T := s.Steps()
	return fmt.Sprintf("%s schedule, T=%d, alphas_cumprod=[%.6f ... %.6f], beta range=[%.6f, %.6f]",
		s.kind, T, s.alphasCumprod[0], s.alphasCumprod[T-1], floats.Min(s.betas), floats.Max(s.betas))
}
