package dataset

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"robust-forge/internal/nn"
)

// Source formats understood by NewProvider.
const (
	FormatCIFAR10    = "cifar10"
	FormatWebDataset = "webdataset"
)

// Options selects a source and the loader settings for both splits.
type Options struct {
	Format string
	// Root holds the CIFAR-10 binary batches.
	Root string
	// TrainRoots and TestRoots hold train-*.tar and test-*.tar shards.
	TrainRoots     []string
	TestRoots      []string
	Shape          nn.Shape
	TrainBatchSize int
	TestBatchSize  int
	NumWorkers     int
	Augment        bool
	Limit          int
	Seed           int64
}

// Provider exposes the training and evaluation loaders.
type Provider struct {
	Train *Loader
	Test  *Loader
}

// NewProvider loads both splits into memory and wraps them in loaders.
// Training batches are shuffled and augmented; test batches keep file order.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	train, err := loadSplit(ctx, opts, true)
	if err != nil {
		return nil, fmt.Errorf("load train split: %w", err)
	}
	test, err := loadSplit(ctx, opts, false)
	if err != nil {
		return nil, fmt.Errorf("load test split: %w", err)
	}
	log.Info().
		Str("format", opts.Format).
		Int("train", train.Len()).
		Int("test", test.Len()).
		Str("shape", train.Shape.String()).
		Msg("dataset loaded")

	trainTransforms := TestTransforms(train.Shape.Channels)
	if opts.Augment {
		trainTransforms = TrainTransforms(train.Shape.Channels)
	}
	trainLoader, err := NewLoader(train, LoaderOptions{
		BatchSize:  opts.TrainBatchSize,
		Shuffle:    true,
		Transforms: trainTransforms,
		NumWorkers: opts.NumWorkers,
		Seed:       opts.Seed,
	})
	if err != nil {
		return nil, err
	}
	testLoader, err := NewLoader(test, LoaderOptions{
		BatchSize:  opts.TestBatchSize,
		Transforms: TestTransforms(test.Shape.Channels),
		NumWorkers: opts.NumWorkers,
		Seed:       opts.Seed,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{Train: trainLoader, Test: testLoader}, nil
}

func loadSplit(ctx context.Context, opts Options, train bool) (*Dataset, error) {
	switch opts.Format {
	case FormatCIFAR10:
		return LoadCIFAR10(opts.Root, train, opts.Limit)
	case FormatWebDataset:
		roots, split := opts.TestRoots, "test"
		if train {
			roots, split = opts.TrainRoots, "train"
		}
		byRoot, err := DiscoverByRoot(roots, split)
		if err != nil {
			return nil, err
		}
		return LoadShards(ctx, ShardOptions{
			Roots:      byRoot,
			Shape:      opts.Shape,
			Seed:       opts.Seed,
			NumWorkers: opts.NumWorkers,
			Limit:      opts.Limit,
		})
	default:
		return nil, fmt.Errorf("dataset: unknown format %q", opts.Format)
	}
}
