package diffusion

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Tensor is an n-dimensional float32 array, NCHW for images
type Tensor struct {
	Data  []float32
	Shape []int
}

func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Tensor{Data: make([]float32, size), Shape: append([]int{}, shape...)}
}

func TensorFrom(data []float32, shape []int) *Tensor {
	return &Tensor{Data: data, Shape: shape}
}

func (t *Tensor) Numel() int {
	n := 1
	for _, s := range t.Shape {
		n *= s
	}
	return n
}

func (t *Tensor) Clone() *Tensor {
	d := make([]float32, len(t.Data))
	copy(d, t.Data)
	return &Tensor{Data: d, Shape: append([]int{}, t.Shape...)}
}

// Dense wraps the tensor data for a graph input. The backing slice is shared.
func (t *Tensor) Dense() *tensor.Dense {
	return tensor.New(tensor.WithShape(t.Shape...), tensor.WithBacking(t.Data))
}

// FromDense copies a float32 graph value into a Tensor.
func FromDense(d *tensor.Dense) (*Tensor, error) {
	src, ok := d.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: expected float32 value, got %v", ErrData, d.Dtype())
	}
	out := NewTensor(d.Shape()...)
	copy(out.Data, src)
	return out, nil
}

// --- Basic operations ---

// Add two tensors element-wise (must have same size)
func Add(a, b *Tensor) *Tensor {
	out := NewTensor(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out
}

// Scale tensor by scalar
func Scale(x *Tensor, s float32) *Tensor {
	out := NewTensor(x.Shape...)
	for i := range x.Data {
		out.Data[i] = x.Data[i] * s
	}
	return out
}

// SplitWidth cuts [N,C,H,W] at column `at` into [N,C,H,at] and [N,C,H,W-at].
func SplitWidth(x *Tensor, at int) (left, right *Tensor) {
	N, C, H, W := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	left = NewTensor(N, C, H, at)
	right = NewTensor(N, C, H, W-at)

	for nc := 0; nc < N*C; nc++ {
		for h := 0; h < H; h++ {
			row := x.Data[(nc*H+h)*W : (nc*H+h+1)*W]
			copy(left.Data[(nc*H+h)*at:], row[:at])
			copy(right.Data[(nc*H+h)*(W-at):], row[at:])
		}
	}
	return left, right
}

// SelectBatch gathers the listed rows of the leading (batch) axis.
func SelectBatch(x *Tensor, rows []int) *Tensor {
	per := 1
	for _, s := range x.Shape[1:] {
		per *= s
	}
	shape := append([]int{len(rows)}, x.Shape[1:]...)
	out := NewTensor(shape...)
	for i, r := range rows {
		copy(out.Data[i*per:(i+1)*per], x.Data[r*per:(r+1)*per])
	}
	return out
}

// FillNormal overwrites t with standard normal samples (Box-Muller).
func FillNormal(t *Tensor, rng *rand.Rand) {
	for i := 0; i < len(t.Data)-1; i += 2 {
		u1 := rng.Float64()
		u2 := rng.Float64()
		for u1 == 0 {
			u1 = rng.Float64()
		}
		r := math.Sqrt(-2 * math.Log(u1))
		theta := 2 * math.Pi * u2
		t.Data[i] = float32(r * math.Cos(theta))
		t.Data[i+1] = float32(r * math.Sin(theta))
	}
	if len(t.Data)%2 == 1 {
		u1 := rng.Float64()
		u2 := rng.Float64()
		for u1 == 0 {
			u1 = rng.Float64()
		}
		t.Data[len(t.Data)-1] = float32(math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2))
	}
}

// RandomSeed draws the initial sampling tensor for a seed.
func RandomSeed(n, c, h, w int, seed int64) *Tensor {
	t := NewTensor(n, c, h, w)
	FillNormal(t, rand.New(rand.NewSource(seed)))
	return t
}

func tensorMin(t *Tensor) float32 {
	m := t.Data[0]
	for _, v := range t.Data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func tensorMax(t *Tensor) float32 {
	m := t.Data[0]
	for _, v := range t.Data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
