package diffusion

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idxBytes(dims []int, body []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, idxUbyte, byte(len(dims))})
	for _, d := range dims {
		binary.Write(&buf, binary.BigEndian, uint32(d))
	}
	buf.Write(body)
	return buf.Bytes()
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseIDX(t *testing.T) {
	dims, body, err := parseIDX(idxBytes([]int{2, 3}, []byte{1, 2, 3, 4, 5, 6}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, dims)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, body)

	dims, body, err = parseIDX(idxBytes([]int{0, 28, 28}, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 28, 28}, dims)
	assert.Empty(t, body)
}

func TestParseIDXRejects(t *testing.T) {
	good := idxBytes([]int{2}, []byte{7, 8})
	badMagic := append([]byte{}, good...)
	badMagic[0] = 1
	badType := append([]byte{}, good...)
	badType[2] = 0x0D

	for name, data := range map[string][]byte{
		"empty":         nil,
		"bad magic":     badMagic,
		"float type":    badType,
		"short header":  good[:6],
		"short body":    good[:len(good)-1],
		"long body":     append(append([]byte{}, good...), 9),
		"wrapping dims": idxBytes([]int{1 << 16, 1 << 16, 1 << 16, 1 << 16}, nil),
		"huge dim":      idxBytes([]int{0xFFFFFFFF, 0xFFFFFFFF}, []byte{1}),
	} {
		_, _, err := parseIDX(data)
		assert.ErrorIs(t, err, ErrData, name)
	}
}

func writeMNIST(t *testing.T, dir string, gz bool) {
	t.Helper()
	// two 2x2 images: all black, then all white except one mid-gray pixel
	images := idxBytes([]int{2, 2, 2}, []byte{0, 0, 0, 0, 255, 255, 255, 51})
	labels := idxBytes([]int{2}, []byte{1, 0})
	imgName, lblName := "train-images-idx3-ubyte", "train-labels-idx1-ubyte"
	if gz {
		images, labels = gzipBytes(t, images), gzipBytes(t, labels)
		imgName, lblName = imgName+".gz", lblName+".gz"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, imgName), images, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, lblName), labels, 0o644))
}

func TestLoadMNIST(t *testing.T) {
	for _, gz := range []bool{false, true} {
		dir := t.TempDir()
		writeMNIST(t, dir, gz)

		ds, err := LoadMNIST(dir, 1)
		require.NoError(t, err, "gz=%v", gz)
		assert.Equal(t, 2, ds.Len())
		assert.Equal(t, []int{1, 4, 4}, ds.ImageShape())
		assert.Equal(t, []int{1, 0}, ds.labels)

		img := ds.images.Data
		// padding is the normalized background
		assert.Equal(t, float32(-1), img[0])
		assert.Equal(t, float32(-1), img[16+15])
		// second image, interior (1,1) is white, (2,2) is 51/255
		assert.InDelta(t, 1, img[16+1*4+1], 1e-6)
		assert.InDelta(t, 2*0.2-1, img[16+2*4+2], 1e-6)
		// first image interior is black
		assert.Equal(t, float32(-1), img[1*4+1])
	}
}

func TestLoadMNISTErrors(t *testing.T) {
	_, err := LoadMNIST(t.TempDir(), 2)
	assert.Error(t, err)

	_, err = LoadMNIST(t.TempDir(), -1)
	assert.ErrorIs(t, err, ErrConfig)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-images-idx3-ubyte"),
		idxBytes([]int{1, 1, 1}, []byte{0}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-labels-idx1-ubyte"),
		idxBytes([]int{2}, []byte{0, 1}), 0o644))
	_, err = LoadMNIST(dir, 0)
	assert.ErrorIs(t, err, ErrData)
}

func TestNewDatasetValidates(t *testing.T) {
	_, err := NewDataset(NewTensor(2, 1, 2, 2), []int{0})
	assert.ErrorIs(t, err, ErrData)
	_, err = NewDataset(NewTensor(2, 4), []int{0, 1})
	assert.ErrorIs(t, err, ErrData)
}
