package main

import (
	"fmt"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/diffusion"
)

// runSchedule prints the noise schedule table.
func runSchedule(args []string) error {
	fs := newFlagSet("schedule")
	kind := fs.String("kind", string(diffusion.ScheduleCosine), "beta schedule: cosine, linear or scaled_linear")
	steps := fs.Int("steps", 1000, "diffusion steps T")
	every := fs.Int("every", 100, "print every k-th step")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *every <= 0 {
		return fmt.Errorf("%w: -every must be positive, got %d", diffusion.ErrConfig, *every)
	}

	sched, err := diffusion.NewNoiseSchedule(diffusion.ScheduleKind(*kind), *steps)
	if err != nil {
		return err
	}
	fmt.Println(sched)
	fmt.Printf("%6s  %10s  %14s  %14s\n", "t", "beta", "alphas_cumprod", "sqrt_ac")
	for t := 0; t < sched.Steps(); t += *every {
		fmt.Printf("%6d  %10.6f  %14.8f  %14.8f\n", t, sched.Beta(t), sched.AlphasCumprod(t), sched.SqrtAlphasCumprod(t))
	}
	if last := sched.Steps() - 1; last%*every != 0 {
		fmt.Printf("%6d  %10.6f  %14.8f  %14.8f\n", last, sched.Beta(last), sched.AlphasCumprod(last), sched.SqrtAlphasCumprod(last))
	}
	return nil
}
