package diffusion

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	G "gorgonia.org/gorgonia"
	"k8s.io/klog/v2"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

// TrainConfig holds the training hyperparameters.
type TrainConfig struct {
	Epochs         int
	DiffusionSteps int
	Schedule       ScheduleKind
	LearningRate   float64
	LogInterval    int // batches between progress lines
	Seed           int64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:         10,
		DiffusionSteps: 1000,
		Schedule:       ScheduleCosine,
		LearningRate:   1e-4,
		LogInterval:    100,
		Seed:           42,
	}
}

func (c TrainConfig) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrConfig, c.Epochs)
	case c.DiffusionSteps <= 0:
		return fmt.Errorf("%w: diffusion steps must be positive, got %d", ErrConfig, c.DiffusionSteps)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrConfig, c.LearningRate)
	case c.LogInterval <= 0:
		return fmt.Errorf("%w: log interval must be positive, got %d", ErrConfig, c.LogInterval)
	}
	return nil
}

// Session trains one parameter set. Every batch is split into left/right halves along
// width; for each step t from T-1 down to 0 the session takes one contrastive update on
// the halves and one noise-prediction update on the noised batch. Both updates share a
// single Adam state. A Session is not safe for concurrent use.
type Session struct {
	id     uuid.UUID
	cfg    TrainConfig
	params *unet.Params
	loader *Loader
	sched  *NoiseSchedule
	out    io.Writer
	rng    *rand.Rand

	solver *G.AdamSolver
	ff     *ForwardForward
	den    *Denoising

	lastLoss float64
}

// NewSession builds the contrastive and denoising graphs over params for the loader's
// batch shape. Progress lines go to out.
func NewSession(cfg TrainConfig, params *unet.Params, loader *Loader, out io.Writer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sched, err := NewNoiseSchedule(cfg.Schedule, cfg.DiffusionSteps)
	if err != nil {
		return nil, err
	}

	img := loader.ImageShape()
	if len(img) != 3 || img[2]%2 != 0 {
		return nil, fmt.Errorf("%w: image shape %v cannot be split into equal halves", ErrData, img)
	}
	batch := []int{loader.BatchSize(), img[0], img[1], img[2]}
	half := []int{loader.BatchSize(), img[0], img[1], img[2] / 2}

	ff, err := NewForwardForward(params, half)
	if err != nil {
		return nil, err
	}
	den, err := NewDenoising(params, batch)
	if err != nil {
		ff.Close()
		return nil, err
	}

	s := &Session{
		id:     uuid.New(),
		cfg:    cfg,
		params: params,
		loader: loader,
		sched:  sched,
		out:    out,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		solver: G.NewAdamSolver(
			G.WithLearnRate(cfg.LearningRate),
			G.WithBeta1(0.9),
			G.WithBeta2(0.999),
			G.WithEps(1e-8),
		),
		ff:  ff,
		den: den,
	}
	klog.Infof("session %s: %d params (%d weights), batch %v, %s",
		s.id, params.Len(), params.NumScalars(), batch, sched)
	return s, nil
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Schedule() *NoiseSchedule { return s.sched }

// LastLoss is the most recent noise-prediction loss.
func (s *Session) LastLoss() float64 { return s.lastLoss }

// Run trains for cfg.Epochs and returns the trained parameters. ctx is checked between
// batches.
func (s *Session) Run(ctx context.Context) (*unet.Params, error) {
	numBatches := s.loader.TotalBatches()
	for epoch := 0; epoch < s.cfg.Epochs; epoch++ {
		start := time.Now()
		it := s.loader.Epoch()
		for {
			b, ok := it.Next()
			if !ok {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			loss, err := s.Step(b)
			if err != nil {
				return nil, fmt.Errorf("epoch %d batch %d: %w", epoch, b.Index, err)
			}
			if b.Index%s.cfg.LogInterval == 0 {
				fmt.Fprintf(s.out, "Epoch: %d [%d/%d (%.0f%%)]\tLoss: %.6f\n",
					epoch, b.Index*s.loader.BatchSize(), s.loader.DatasetLen(),
					100*float64(b.Index)/float64(numBatches), loss)
			}
		}
		klog.V(1).Infof("session %s: epoch %d done in %v", s.id, epoch, time.Since(start))
	}
	return s.params, nil
}

// Step runs every diffusion step on one batch and returns the last noise-prediction loss.
func (s *Session) Step(b Batch) (float64, error) {
	W := b.Images.Shape[3]
	left, right := SplitWidth(b.Images, W/2)
	eps := NewTensor(b.Images.Shape...)

	for t := s.sched.Steps() - 1; t >= 0; t-- {
		FillNormal(eps, s.rng)
		noisy, noise := s.sched.AddNoise(b.Images, t, eps)

		ffLoss, ok, err := s.ff.Loss(left, right, b.Labels)
		if err != nil {
			return 0, fmt.Errorf("t=%d: %w", t, err)
		}
		if ok {
			if err := applyStep(s.solver, s.ff.ValueGrads()); err != nil {
				return 0, fmt.Errorf("t=%d: contrastive update: %w", t, err)
			}
		}

		loss, err := s.den.Loss(noisy, noise, t)
		if err != nil {
			return 0, fmt.Errorf("t=%d: %w", t, err)
		}
		if err := applyStep(s.solver, s.den.ValueGrads()); err != nil {
			return 0, fmt.Errorf("t=%d: denoise update: %w", t, err)
		}
		s.lastLoss = loss

		if klog.V(4).Enabled() {
			klog.Infof("batch %d t=%d contrastive=%.6f denoise=%.6f", b.Index, t, ffLoss, loss)
		}
	}
	return s.lastLoss, nil
}

// Close releases both graph machines.
func (s *Session) Close() error {
	err := s.ff.Close()
	if derr := s.den.Close(); err == nil {
		err = derr
	}
	return err
}
