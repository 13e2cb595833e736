package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/diffusion"
	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

// openONNXDenoiser is set when built with -tags ort.
var openONNXDenoiser func(modelPath string) (diffusion.Denoiser, func() error, error)

// runSample draws a grid either from an exported ONNX denoiser or from freshly
// initialized weights (useful to check shapes and the pipeline end to end).
func runSample(args []string) error {
	fs := newFlagSet("sample")
	def := diffusion.DefaultTrainConfig()

	onnxPath := fs.String("onnx", "", "exported denoiser (needs a build with -tags ort)")
	steps := fs.Int("steps", def.DiffusionSteps, "diffusion steps T of the schedule")
	sampleSteps := fs.Int("sample-steps", 0, "steps to walk back (0 = all T)")
	kind := fs.String("schedule", string(def.Schedule), "beta schedule: cosine, linear or scaled_linear")
	n := fs.Int("n", 64, "number of images")
	size := fs.Int("size", 32, "image height and width")
	seed := fs.Int64("seed", def.Seed, "seed for the initial noise and the weights")
	outPath := fs.String("out", "", "write the sample grid PNG here")
	netCfg := netFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}

	sched, err := diffusion.NewNoiseSchedule(diffusion.ScheduleKind(*kind), *steps)
	if err != nil {
		return err
	}
	walk := *sampleSteps
	if walk == 0 {
		walk = *steps
	}

	cfg := netCfg()
	shape := []int{*n, cfg.InChannels, *size, *size}
	var d diffusion.Denoiser
	if *onnxPath != "" {
		if openONNXDenoiser == nil {
			return fmt.Errorf("%w: -onnx needs a binary built with -tags ort", diffusion.ErrConfig)
		}
		od, closeFn, err := openONNXDenoiser(*onnxPath)
		if err != nil {
			return err
		}
		defer closeFn()
		d = od
		fmt.Printf("Denoiser: %s (ONNX Runtime)\n", *onnxPath)
	} else {
		params, err := unet.NewParams(cfg, *seed)
		if err != nil {
			return err
		}
		gd, err := diffusion.NewGraphDenoiser(params, shape)
		if err != nil {
			return err
		}
		defer gd.Close()
		d = gd
		fmt.Printf("Denoiser: untrained graph, %d weights\n", params.NumScalars())
	}
	return sampleAndSave(d, sched, shape, walk, *seed, *outPath, uuid.NewString())
}

func sampleAndSave(d diffusion.Denoiser, sched *diffusion.NoiseSchedule, shape []int, steps int, seed int64, outPath, runID string) error {
	x := diffusion.RandomSeed(shape[0], shape[1], shape[2], shape[3], seed)
	start := time.Now()
	samples, err := diffusion.Sample(d, sched, x, steps)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	fmt.Printf("Sampled %v over %d steps (%v)\n", samples.Shape, steps, time.Since(start))

	if outPath == "" {
		return nil
	}
	caption := fmt.Sprintf("steps=%d seed=%d run=%s", steps, seed, shortID(runID))
	grid, err := diffusion.Grid(samples, 8, caption)
	if err != nil {
		return err
	}
	if err := diffusion.SavePNG(grid, outPath); err != nil {
		return fmt.Errorf("save %s: %w", outPath, err)
	}
	fmt.Printf("Saved: %s\n", outPath)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
