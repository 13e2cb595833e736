package unet

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned for degenerate layer or channel settings.
	ErrConfig = errors.New("unet: invalid config")
	// ErrShape is returned when an input cannot flow through the paired stages.
	ErrShape = errors.New("unet: shape mismatch")
)

// Config sizes the encoder-decoder.
//
// Stage i of the down path is 2^i * BaseChannels wide; the bottleneck projects back to
// BaseChannels and the up path mirrors the down path.
type Config struct {
	InChannels   int
	BaseChannels int
	OutChannels  int
	NumLayers    int
	EmbedDim     int     // step embedding width, 0 = never conditioned
	LeakySlope   float64 // LeakyReLU negative slope
}

// DefaultConfig is a small single-channel network for 32x32 digits.
func DefaultConfig() Config {
	return Config{
		InChannels:   1,
		BaseChannels: 8,
		OutChannels:  1,
		NumLayers:    3,
		EmbedDim:     32,
		LeakySlope:   0.01,
	}
}

func (c Config) Validate() error {
	if c.NumLayers <= 0 {
		return fmt.Errorf("%w: num_layers must be positive, got %d", ErrConfig, c.NumLayers)
	}
	if c.InChannels <= 0 || c.BaseChannels <= 0 || c.OutChannels <= 0 {
		return fmt.Errorf("%w: channel counts must be positive (in=%d base=%d out=%d)",
			ErrConfig, c.InChannels, c.BaseChannels, c.OutChannels)
	}
	if c.EmbedDim < 0 || c.EmbedDim%2 != 0 {
		return fmt.Errorf("%w: embed_dim must be even and non-negative, got %d", ErrConfig, c.EmbedDim)
	}
	if c.LeakySlope < 0 {
		return fmt.Errorf("%w: leaky slope must be non-negative, got %g", ErrConfig, c.LeakySlope)
	}
	return nil
}

// StageChannels is the width of down/up stage i.
func (c Config) StageChannels(i int) int {
	return (1 << uint(i)) * c.BaseChannels
}

// CheckInput verifies an NCHW input shape against the config.
func (c Config) CheckInput(shape []int) error {
	if len(shape) != 4 {
		return fmt.Errorf("%w: want NCHW input, got shape %v", ErrShape, shape)
	}
	if shape[0] <= 0 {
		return fmt.Errorf("%w: empty batch in shape %v", ErrShape, shape)
	}
	if shape[1] != c.InChannels {
		return fmt.Errorf("%w: input has %d channels, network expects %d", ErrShape, shape[1], c.InChannels)
	}
	div := 1 << uint(c.NumLayers)
	if shape[2] < div || shape[3] < div || shape[2]%div != 0 || shape[3]%div != 0 {
		return fmt.Errorf("%w: spatial size %dx%d must be a positive multiple of 2^%d=%d so skips pair with up stages",
			ErrShape, shape[2], shape[3], c.NumLayers, div)
	}
	return nil
}
