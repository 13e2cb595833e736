//go:build ort

package main

import (
	"fmt"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/diffusion"
)

func init() {
	openONNXDenoiser = openORT
}

func openORT(modelPath string) (diffusion.Denoiser, func() error, error) {
	lib := diffusion.FindORTLibrary()
	fmt.Printf("[ORT] Library: %s\n", lib)
	d, err := diffusion.NewORTDenoiser(modelPath, lib)
	if err != nil {
		return nil, nil, fmt.Errorf("ORT denoiser: %w", err)
	}
	return d, d.Close, nil
}
