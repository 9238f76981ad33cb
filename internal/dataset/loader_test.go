package dataset

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robust-forge/internal/nn"
)

func syntheticDataset(n int, shape nn.Shape) *Dataset {
	ds := &Dataset{Shape: shape}
	for i := 0; i < n; i++ {
		pixels := make([]float64, shape.Size())
		for j := range pixels {
			pixels[j] = float64(i) / float64(n)
		}
		ds.Examples = append(ds.Examples, Example{Pixels: pixels, Label: i % 10})
	}
	return ds
}

func collect(t *testing.T, it *Iterator) []nn.Batch {
	t.Helper()
	defer it.Close()
	var out []nn.Batch
	for {
		b, err := it.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		require.NoError(t, b.Validate())
		out = append(out, b)
	}
}

func TestLoaderBatchesCoverDataset(t *testing.T) {
	l, err := NewLoader(syntheticDataset(10, smallShape), LoaderOptions{BatchSize: 4, NumWorkers: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, l.NumBatches())

	batches := collect(t, l.Epoch(context.Background()))
	require.Len(t, batches, 3)
	assert.Equal(t, []int{4, 4, 2}, []int{batches[0].Len(), batches[1].Len(), batches[2].Len()})
	// Unshuffled loaders keep file order.
	assert.Equal(t, []int{0, 1, 2, 3}, batches[0].Labels)
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	ds := syntheticDataset(32, smallShape)
	opts := LoaderOptions{BatchSize: 8, Shuffle: true, Transforms: TrainTransforms(3), NumWorkers: 4, Seed: 11}
	a, err := NewLoader(ds, opts)
	require.NoError(t, err)
	b, err := NewLoader(ds, opts)
	require.NoError(t, err)

	ba := collect(t, a.Epoch(context.Background()))
	bb := collect(t, b.Epoch(context.Background()))
	require.Len(t, bb, len(ba))
	for i := range ba {
		assert.Equal(t, ba[i].Labels, bb[i].Labels)
		assert.Equal(t, ba[i].Inputs.RawMatrix().Data, bb[i].Inputs.RawMatrix().Data)
	}
}

func TestLoaderRejectsEmpty(t *testing.T) {
	_, err := NewLoader(&Dataset{Shape: smallShape}, LoaderOptions{BatchSize: 1})
	assert.ErrorIs(t, err, ErrEmptyDataset)
	_, err = NewLoader(syntheticDataset(1, smallShape), LoaderOptions{})
	assert.Error(t, err)
}

func TestIteratorStopsOnCancel(t *testing.T) {
	l, err := NewLoader(syntheticDataset(50, smallShape), LoaderOptions{BatchSize: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	it := l.Epoch(ctx)
	defer it.Close()
	_, err = it.Next()
	require.NoError(t, err)
	cancel()
	_, err = it.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransformApply(t *testing.T) {
	shape := nn.Shape{Channels: 1, Height: 2, Width: 3}
	src := []float64{0, 0.25, 0.5, 0.75, 1, 0.5}
	rng := rand.New(rand.NewSource(1))

	flipped := HorizontalFlip{P: 1}.Apply(src, shape, rng)
	assert.Equal(t, []float64{0.5, 0.25, 0, 0.5, 1, 0.75}, flipped)
	assert.Equal(t, src, HorizontalFlip{P: 0}.Apply(src, shape, rng))

	norm := Symmetric(1).Apply(src, shape, rng)
	assert.Equal(t, []float64{-1, -0.5, 0, 0.5, 1, 0}, norm)

	cropped := RandomCrop{Padding: 1}.Apply(src, shape, rng)
	assert.Len(t, cropped, len(src))
	assert.Equal(t, src, RandomCrop{}.Apply(src, shape, rng))
}
