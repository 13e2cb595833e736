package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

func TestDenoisingLossNonNegative(t *testing.T) {
	p, err := unet.NewParams(tinyNet(), 2)
	require.NoError(t, err)
	shape := []int{2, 1, 8, 8}
	d, err := NewDenoising(p, shape)
	require.NoError(t, err)
	defer d.Close()

	rapid.Check(t, func(rt *rapid.T) {
		seed := rapid.Int64().Draw(rt, "seed")
		step := rapid.IntRange(0, 999).Draw(rt, "t")
		loss, err := d.Loss(randomImages(seed, shape...), randomImages(seed+1, shape...), step)
		if err != nil {
			rt.Fatalf("Loss: %v", err)
		}
		if loss <= 0 {
			rt.Fatalf("loss %v for random target", loss)
		}
	})
}

func TestDenoisingLossZeroOnExactMatch(t *testing.T) {
	p, err := unet.NewParams(tinyNet(), 2)
	require.NoError(t, err)
	shape := []int{2, 1, 8, 8}
	noisy := randomImages(3, shape...)

	g, err := NewGraphDenoiser(p, shape)
	require.NoError(t, err)
	defer g.Close()
	pred, err := g.Denoise(noisy, 17)
	require.NoError(t, err)

	d, err := NewDenoising(p, shape)
	require.NoError(t, err)
	defer d.Close()
	loss, err := d.Loss(noisy, pred, 17)
	require.NoError(t, err)
	assert.InDelta(t, 0, loss, 1e-12)

	// a different step embedding changes the prediction, so the same target no longer matches
	loss, err = d.Loss(noisy, pred, 500)
	require.NoError(t, err)
	assert.Greater(t, loss, 0.0)
}

func TestDenoisingRejectsShape(t *testing.T) {
	p, err := unet.NewParams(tinyNet(), 2)
	require.NoError(t, err)
	d, err := NewDenoising(p, []int{2, 1, 8, 8})
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Loss(randomImages(1, 1, 1, 8, 8), randomImages(2, 2, 1, 8, 8), 0)
	assert.ErrorIs(t, err, ErrData)
	_, err = d.Loss(randomImages(1, 2, 1, 8, 8), randomImages(2, 2, 1, 4, 4), 0)
	assert.ErrorIs(t, err, ErrData)
}

func TestDenoisingGradsCoverAllParams(t *testing.T) {
	p, err := unet.NewParams(tinyNet(), 2)
	require.NoError(t, err)
	shape := []int{2, 1, 8, 8}
	d, err := NewDenoising(p, shape)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Loss(randomImages(1, shape...), randomImages(2, shape...), 3)
	require.NoError(t, err)
	vgs := d.ValueGrads()
	require.Len(t, vgs, p.Len())
	for i, prm := range p.All() {
		assert.Same(t, prm.Value, vgs[i].Value(), prm.Name)
		_, err := vgs[i].Grad()
		assert.NoError(t, err, prm.Name)
	}
}
