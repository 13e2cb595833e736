package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"k8s.io/klog/v2"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/diffusion"
	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

// runTrain trains on MNIST, then draws a sample grid from the trained weights.
func runTrain(args []string) error {
	fs := newFlagSet("train")
	def := diffusion.DefaultTrainConfig()

	dataDir := fs.String("data", "./data/MNIST/raw", "directory with the MNIST IDX files")
	pad := fs.Int("pad", 2, "border padding in pixels (28 -> 32 by default)")
	batchSize := fs.Int("batch", 64, "batch size")
	noShuffle := fs.Bool("no-shuffle", false, "keep dataset order")
	epochs := fs.Int("epochs", def.Epochs, "training epochs")
	steps := fs.Int("steps", def.DiffusionSteps, "diffusion steps T")
	kind := fs.String("schedule", string(def.Schedule), "beta schedule: cosine, linear or scaled_linear")
	lr := fs.Float64("lr", def.LearningRate, "Adam learning rate")
	logEvery := fs.Int("log-interval", def.LogInterval, "batches between progress lines")
	seed := fs.Int64("seed", def.Seed, "seed for init, shuffling and noise")
	numSamples := fs.Int("samples", 64, "images to sample after training (0 skips sampling)")
	outPath := fs.String("out", "", "write the sample grid PNG here")
	netCfg := netFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if env := os.Getenv("FFDIFF_DATA"); env != "" {
		*dataDir = env
	}

	cfg := def
	cfg.Epochs = *epochs
	cfg.DiffusionSteps = *steps
	cfg.Schedule = diffusion.ScheduleKind(*kind)
	cfg.LearningRate = *lr
	cfg.LogInterval = *logEvery
	cfg.Seed = *seed

	fmt.Printf("Data: %s (pad %d)\n", *dataDir, *pad)
	start := time.Now()
	ds, err := diffusion.LoadMNIST(*dataDir, *pad)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d images %v (%v)\n", ds.Len(), ds.ImageShape(), time.Since(start))

	loader, err := diffusion.NewLoader(ds, *batchSize, !*noShuffle, cfg.Seed)
	if err != nil {
		return err
	}
	params, err := unet.NewParams(netCfg(), cfg.Seed)
	if err != nil {
		return err
	}
	session, err := diffusion.NewSession(cfg, params, loader, os.Stdout)
	if err != nil {
		return err
	}
	defer session.Close()
	fmt.Printf("Run %s: %d epochs, %d batches of %d, T=%d, lr %g\n",
		session.ID(), cfg.Epochs, loader.NumBatches(), loader.BatchSize(), cfg.DiffusionSteps, cfg.LearningRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start = time.Now()
	trained, err := session.Run(ctx)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	fmt.Printf("Training done (%v), final loss %.6f\n", time.Since(start), session.LastLoss())

	if *numSamples == 0 {
		return nil
	}
	img := ds.ImageShape()
	shape := []int{*numSamples, img[0], img[1], img[2]}
	d, err := diffusion.NewGraphDenoiser(trained, shape)
	if err != nil {
		return err
	}
	defer d.Close()
	klog.V(1).Infof("run %s: sampling %v", session.ID(), shape)
	return sampleAndSave(d, session.Schedule(), shape, cfg.DiffusionSteps, cfg.Seed, *outPath, session.ID().String())
}
