package diffusion

import (
	"fmt"
	"math"

	"k8s.io/klog/v2"
)

// Denoiser predicts the denoised batch for step t. Implementations may hold a fixed batch
// shape.
type Denoiser interface {
	Denoise(x *Tensor, t int) (*Tensor, error)
}

// Sample walks t = steps-1 .. 0 from the seed tensor x, setting x = denoise(x, t) *
// sqrt_alphas_cumprod[t] each step. No noise is re-injected, so equal inputs give equal
// outputs.
func Sample(d Denoiser, sched *NoiseSchedule, x *Tensor, steps int) (*Tensor, error) {
	if steps <= 0 || steps > sched.Steps() {
		return nil, fmt.Errorf("%w: sampling steps must be in [1, %d], got %d", ErrConfig, sched.Steps(), steps)
	}
	x = x.Clone()
	for t := steps - 1; t >= 0; t-- {
		pred, err := d.Denoise(x, t)
		if err != nil {
			return nil, err
		}
		if len(pred.Data) != len(x.Data) {
			return nil, fmt.Errorf("%w: denoiser returned %v for input %v", ErrData, pred.Shape, x.Shape)
		}
		x = Scale(pred, float32(sched.SqrtAlphasCumprod(t)))
		if klog.V(3).Enabled() {
			klog.Infof("sample t=%d range=[%.4f, %.4f]", t, tensorMin(x), tensorMax(x))
		}
	}
	for _, v := range x.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: sample contains %v", ErrNumerical, v)
		}
	}
	return x, nil
}
