package diffusion

import "math"

// StepEmbedding is the sinusoidal embedding of step t (cos half first, then sin),
// repeated for every row of a batch: [batch, dim].
func StepEmbedding(t, dim, batch int) *Tensor {
	emb := NewTensor(batch, dim)
	if dim == 0 {
		return emb
	}
	halfDim := dim / 2
	logMax := math.Log(10000.0)

	row := emb.Data[:dim]
	for i := 0; i < halfDim; i++ {
		freq := math.Exp(-logMax * float64(i) / float64(halfDim))
		angle := float64(t) * freq
		row[i] = float32(math.Cos(angle))
		row[halfDim+i] = float32(math.Sin(angle))
	}
	for b := 1; b < batch; b++ {
		copy(emb.Data[b*dim:(b+1)*dim], row)
	}
	return emb
}
