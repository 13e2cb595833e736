//go:build ort

package diffusion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ortLibrary(t *testing.T) string {
	t.Helper()
	lib := FindORTLibrary()
	if lib == "" {
		t.Skip("libonnxruntime not installed")
	}
	return lib
}

func TestFindORTLibraryPrefersEnv(t *testing.T) {
	t.Setenv("ORT_LIB", "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", FindORTLibrary())
}

func TestNewORTDenoiserNeedsLibrary(t *testing.T) {
	_, err := NewORTDenoiser("denoiser.onnx", "")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewORTDenoiserMissingModel(t *testing.T) {
	lib := ortLibrary(t)
	_, err := NewORTDenoiser(filepath.Join(t.TempDir(), "missing.onnx"), lib)
	assert.Error(t, err)
}

// FFDIFF_ONNX_MODEL names an exported denoiser over 1x28x28 images.
func TestORTDenoiserSamples(t *testing.T) {
	lib := ortLibrary(t)
	model := os.Getenv("FFDIFF_ONNX_MODEL")
	if model == "" {
		t.Skip("FFDIFF_ONNX_MODEL not set")
	}
	d, err := NewORTDenoiser(model, lib)
	require.NoError(t, err)
	defer d.Close()

	sched, err := NewNoiseSchedule(ScheduleCosine, 10)
	require.NoError(t, err)
	a, err := Sample(d, sched, RandomSeed(2, 1, 28, 28, 5), 3)
	require.NoError(t, err)
	b, err := Sample(d, sched, RandomSeed(2, 1, 28, 28, 5), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 28, 28}, a.Shape)
	assert.Equal(t, a.Data, b.Data)
}
