package diffusion

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexDataset stores each image's index as its single pixel and label.
func indexDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	ds, err := NewDataset(TensorFrom(iota32(n), []int{n, 1, 1, 1}), labels)
	require.NoError(t, err)
	return ds
}

func drain(l *Loader) []Batch {
	var out []Batch
	it := l.Epoch()
	for {
		b, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestLoaderDropsPartialBatch(t *testing.T) {
	l, err := NewLoader(indexDataset(t, 10), 3, false, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, l.NumBatches())
	assert.Equal(t, 4, l.TotalBatches())
	assert.Equal(t, 10, l.DatasetLen())

	batches := drain(l)
	require.Len(t, batches, 3)
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, []int{3, 1, 1, 1}, b.Images.Shape)
		for j, lbl := range b.Labels {
			assert.Equal(t, 3*i+j, lbl)
			assert.Equal(t, float32(lbl), b.Images.Data[j], "image and label stay paired")
		}
	}
}

func TestLoaderShuffle(t *testing.T) {
	a, err := NewLoader(indexDataset(t, 32), 8, true, 5)
	require.NoError(t, err)
	b, err := NewLoader(indexDataset(t, 32), 8, true, 5)
	require.NoError(t, err)

	first, second := drain(a), drain(b)
	require.Len(t, first, 4)
	var seen []int
	for i := range first {
		assert.Equal(t, first[i].Labels, second[i].Labels, "same seed, same order")
		seen = append(seen, first[i].Labels...)
	}
	sort.Ints(seen)
	assert.Equal(t, indexDataset(t, 32).labels, seen, "one epoch visits every image once")

	next := drain(a)
	var same = true
	for i := range next {
		if !assert.ObjectsAreEqual(next[i].Labels, first[i].Labels) {
			same = false
		}
	}
	assert.False(t, same, "each epoch reshuffles")
}

func TestNewLoaderErrors(t *testing.T) {
	_, err := NewLoader(indexDataset(t, 4), 0, false, 1)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewLoader(indexDataset(t, 4), 5, false, 1)
	assert.ErrorIs(t, err, ErrData)
}
