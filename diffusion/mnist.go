package diffusion

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// IDX type code for unsigned bytes, the only element type MNIST uses
const idxUbyte = 0x08

var (
	mnistImageFiles = []string{"train-images-idx3-ubyte", "train-images.idx3-ubyte"}
	mnistLabelFiles = []string{"train-labels-idx1-ubyte", "train-labels.idx1-ubyte"}
)

// Dataset is an in-memory labeled image set, images normalized to [-1, 1].
type Dataset struct {
	images *Tensor // [N, C, H, W]
	labels []int
}

// NewDataset wraps already-normalized images [N, C, H, W] and one label per image.
func NewDataset(images *Tensor, labels []int) (*Dataset, error) {
	if len(images.Shape) != 4 {
		return nil, fmt.Errorf("%w: images must be NCHW, got shape %v", ErrData, images.Shape)
	}
	if images.Shape[0] != len(labels) {
		return nil, fmt.Errorf("%w: %d images but %d labels", ErrData, images.Shape[0], len(labels))
	}
	return &Dataset{images: images, labels: labels}, nil
}

func (d *Dataset) Len() int { return len(d.labels) }

// ImageShape is the per-image [C, H, W].
func (d *Dataset) ImageShape() []int { return append([]int{}, d.images.Shape[1:]...) }

// LoadMNIST reads the MNIST training split from dir. Plain and .gz files are accepted.
// Pixels are scaled to [0, 1], normalized with mean 0.5 / std 0.5 and padded by pad pixels
// on every side with the normalized background value -1.
func LoadMNIST(dir string, pad int) (*Dataset, error) {
	if pad < 0 {
		return nil, fmt.Errorf("%w: negative padding %d", ErrConfig, pad)
	}
	imgDims, pixels, err := readIDX(findIDX(dir, mnistImageFiles))
	if err != nil {
		return nil, fmt.Errorf("mnist images: %w", err)
	}
	if len(imgDims) != 3 {
		return nil, fmt.Errorf("%w: image file has %d dims, want 3", ErrData, len(imgDims))
	}
	lblDims, rawLabels, err := readIDX(findIDX(dir, mnistLabelFiles))
	if err != nil {
		return nil, fmt.Errorf("mnist labels: %w", err)
	}
	if len(lblDims) != 1 {
		return nil, fmt.Errorf("%w: label file has %d dims, want 1", ErrData, len(lblDims))
	}

	N, H, W := imgDims[0], imgDims[1], imgDims[2]
	if lblDims[0] != N {
		return nil, fmt.Errorf("%w: %d images but %d labels", ErrData, N, lblDims[0])
	}

	Hp, Wp := H+2*pad, W+2*pad
	images := NewTensor(N, 1, Hp, Wp)
	for i := range images.Data {
		images.Data[i] = -1
	}
	for n := 0; n < N; n++ {
		for h := 0; h < H; h++ {
			for w := 0; w < W; w++ {
				v := float32(pixels[(n*H+h)*W+w]) / 255
				images.Data[(n*Hp+h+pad)*Wp+w+pad] = (v - 0.5) / 0.5
			}
		}
	}

	labels := make([]int, N)
	for i, b := range rawLabels {
		labels[i] = int(b)
	}
	return NewDataset(images, labels)
}

func findIDX(dir string, names []string) string {
	for _, name := range names {
		for _, candidate := range []string{name, name + ".gz"} {
			p := filepath.Join(dir, candidate)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return filepath.Join(dir, names[0])
}

// readIDX parses an IDX file: 2 zero bytes, type code, dim count, big-endian uint32 dims, data.
func readIDX(path string) ([]int, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if filepath.Ext(path) == ".gz" {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gunzip %s: %v", ErrData, path, err)
		}
		if data, err = io.ReadAll(zr); err != nil {
			return nil, nil, fmt.Errorf("%w: gunzip %s: %v", ErrData, path, err)
		}
	}
	return parseIDX(data)
}

func parseIDX(data []byte) ([]int, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: idx file too small: %d bytes", ErrData, len(data))
	}
	if data[0] != 0 || data[1] != 0 {
		return nil, nil, fmt.Errorf("%w: bad idx magic % x", ErrData, data[:4])
	}
	if data[2] != idxUbyte {
		return nil, nil, fmt.Errorf("%w: unsupported idx element type 0x%02x", ErrData, data[2])
	}
	ndim := int(data[3])
	header := 4 + 4*ndim
	if len(data) < header {
		return nil, nil, fmt.Errorf("%w: idx header needs %d bytes, file has %d", ErrData, header, len(data))
	}

	body := data[header:]
	dims := make([]int, ndim)
	numel := uint64(1)
	for i := range dims {
		d := uint64(binary.BigEndian.Uint32(data[4+4*i:]))
		dims[i] = int(d)
		// bounded by the body length, so the product cannot wrap
		if d != 0 && numel > uint64(len(body))/d {
			return nil, nil, fmt.Errorf("%w: idx dims %v exceed the %d byte body", ErrData, dims[:i+1], len(body))
		}
		numel *= d
	}
	if uint64(len(body)) != numel {
		return nil, nil, fmt.Errorf("%w: idx dims %v need %d bytes, body has %d", ErrData, dims, numel, len(body))
	}
	return dims, body, nil
}
