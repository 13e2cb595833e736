package diffusion

import (
	"fmt"
	"math/rand"
)

// Batch is one mini-batch of images [B, C, H, W] with their labels.
type Batch struct {
	Index  int
	Images *Tensor
	Labels []int
}

// Loader cuts a Dataset into fixed-size batches. Only full batches are produced: graph
// shapes are static, so a trailing partial batch is dropped.
type Loader struct {
	ds        *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

func NewLoader(ds *Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrConfig, batchSize)
	}
	if ds.Len() < batchSize {
		return nil, fmt.Errorf("%w: dataset has %d images, fewer than one batch of %d", ErrData, ds.Len(), batchSize)
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

func (l *Loader) BatchSize() int { return l.batchSize }

// NumBatches is the number of batches per epoch.
func (l *Loader) NumBatches() int { return l.ds.Len() / l.batchSize }

// TotalBatches also counts the trailing partial batch that Epoch skips. Progress
// percentages are taken against it.
func (l *Loader) TotalBatches() int { return (l.ds.Len() + l.batchSize - 1) / l.batchSize }

// DatasetLen is the number of images in the underlying dataset.
func (l *Loader) DatasetLen() int { return l.ds.Len() }

func (l *Loader) ImageShape() []int { return l.ds.ImageShape() }

// Epoch starts a pass over the data, reshuffled when the loader shuffles.
func (l *Loader) Epoch() *EpochIter {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return &EpochIter{l: l, order: order}
}

// EpochIter yields the batches of one epoch in order.
type EpochIter struct {
	l     *Loader
	order []int
	next  int
}

func (it *EpochIter) Next() (Batch, bool) {
	bs := it.l.batchSize
	if it.next >= it.l.NumBatches() {
		return Batch{}, false
	}
	rows := it.order[it.next*bs : (it.next+1)*bs]
	labels := make([]int, bs)
	for i, r := range rows {
		labels[i] = it.l.ds.labels[r]
	}
	b := Batch{
		Index:  it.next,
		Images: SelectBatch(it.l.ds.images, rows),
		Labels: labels,
	}
	it.next++
	return b, true
}
