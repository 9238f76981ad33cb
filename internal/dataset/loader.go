package dataset

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"robust-forge/internal/nn"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize  int
	Shuffle    bool
	Transforms []Transform
	// NumWorkers bounds per-batch transform parallelism and the prefetch depth.
	NumWorkers int
	Seed       int64
}

// Loader turns a Dataset into epochs of batches.
type Loader struct {
	ds   *Dataset
	opts LoaderOptions
	rng  *rand.Rand
}

func NewLoader(ds *Dataset, opts LoaderOptions) (*Loader, error) {
	if ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	return &Loader{ds: ds, opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}, nil
}

// Shape returns the example shape.
func (l *Loader) Shape() nn.Shape { return l.ds.Shape }

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Epoch starts one pass over the data. The caller must Close the iterator.
func (l *Loader) Epoch(ctx context.Context) *Iterator {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	epochSeed := l.rng.Int63()

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan nn.Batch, l.opts.NumWorkers)
	go func() {
		defer close(out)
		for start := 0; start < len(order); start += l.opts.BatchSize {
			end := start + l.opts.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := l.assemble(order[start:end], epochSeed)
			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
		}
	}()
	return &Iterator{ctx: ctx, cancel: cancel, batches: out}
}

// assemble builds one batch, transforming examples on NumWorkers goroutines.
// Each example draws from its own rng so results do not depend on scheduling.
func (l *Loader) assemble(indices []int, epochSeed int64) nn.Batch {
	shape := l.ds.Shape
	inputs := mat.NewDense(len(indices), shape.Size(), nil)
	labels := make([]int, len(indices))

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < l.opts.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range work {
				ex := l.ds.Examples[indices[row]]
				rng := rand.New(rand.NewSource(epochSeed ^ int64(indices[row])))
				pixels := ex.Pixels
				for _, t := range l.opts.Transforms {
					pixels = t.Apply(pixels, shape, rng)
				}
				copy(inputs.RawRowView(row), pixels)
				labels[row] = ex.Label
			}
		}()
	}
	for row := range indices {
		work <- row
	}
	close(work)
	wg.Wait()
	return nn.Batch{Inputs: inputs, Labels: labels, Shape: shape}
}

// Iterator yields the batches of one epoch.
type Iterator struct {
	ctx     context.Context
	cancel  context.CancelFunc
	batches <-chan nn.Batch
}

// Next blocks for the next batch. It returns io.EOF after the last batch.
func (it *Iterator) Next() (nn.Batch, error) {
	if err := it.ctx.Err(); err != nil {
		return nn.Batch{}, err
	}
	select {
	case <-it.ctx.Done():
		return nn.Batch{}, it.ctx.Err()
	case b, ok := <-it.batches:
		if !ok {
			return nn.Batch{}, io.EOF
		}
		return b, nil
	}
}

// Close stops prefetching. It is safe to call more than once.
func (it *Iterator) Close() {
	it.cancel()
}

// FromBatches returns an iterator over pre-built batches.
func FromBatches(ctx context.Context, batches []nn.Batch) *Iterator {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan nn.Batch, len(batches))
	for _, b := range batches {
		out <- b
	}
	close(out)
	return &Iterator{ctx: ctx, cancel: cancel, batches: out}
}
