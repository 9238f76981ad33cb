package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"robust-forge/internal/nn"
)

// ShardOptions configures LoadShards.
type ShardOptions struct {
	Roots      map[string][]string
	Shape      nn.Shape
	Seed       int64
	NumWorkers int
	PendingCap int
	Limit      int
}

// LoadShards reads every shard under opts.Roots into memory. Shards are
// visited round-robin across roots in a seed-determined order and read by
// NumWorkers concurrent readers; the resulting example order depends only on
// the seed, not on worker scheduling. At most NumWorkers shards are open at
// any time.
func LoadShards(parent context.Context, opts ShardOptions) (*Dataset, error) {
	if len(opts.Roots) == 0 {
		return nil, fmt.Errorf("%w: no dataset roots provided", ErrDataUnavailable)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	order := buildRoundRobinOrder(opts.Roots, rand.New(rand.NewSource(opts.Seed)))
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no shards discovered", ErrEmptyDataset)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	jobs := make(chan shardJob, opts.NumWorkers)
	cursors := make(chan shardCursor, opts.NumWorkers)
	// A slot is taken per job in id order and freed once aggregate has
	// drained that shard, so the next shard in order always gets one.
	slots := make(chan struct{}, opts.NumWorkers)

	go produceJobs(ctx, jobs, slots, order)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors, opts.Shape, opts.PendingCap)
		}()
	}
	go func() {
		wg.Wait()
		close(cursors)
	}()

	ds := &Dataset{Shape: opts.Shape}
	if err := aggregate(ctx, cursors, slots, len(order), ds, opts.Limit); err != nil {
		return nil, err
	}
	ds.Truncate(opts.Limit)
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w: shards held no complete samples", ErrEmptyDataset)
	}
	return ds, nil
}

type shardJob struct {
	id   int
	path string
}

type shardCursor struct {
	id       int
	examples <-chan Example
	errCh    <-chan error
}

func produceJobs(ctx context.Context, jobs chan<- shardJob, slots chan<- struct{}, order []orderEntry) {
	defer close(jobs)
	for id, entry := range order {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- shardJob{id: id, path: entry.path}:
		}
	}
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, shape nn.Shape, pendingCap int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			examples, errCh := StreamShard(ctx, job.path, shape, pendingCap)
			cursor := shardCursor{id: job.id, examples: examples, errCh: errCh}
			select {
			case <-ctx.Done():
				return
			case cursors <- cursor:
			}
		}
	}
}

// aggregate drains cursors strictly in job id order, freeing one slot per
// finished shard. It stops reading once limit examples are held.
func aggregate(ctx context.Context, cursors <-chan shardCursor, slots <-chan struct{}, total int, ds *Dataset, limit int) error {
	pending := make(map[int]shardCursor)
	for nextID := 0; nextID < total; nextID++ {
		cursor, ok := pending[nextID]
		for !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, open := <-cursors:
				if !open {
					return errors.New("dataset: shard readers stopped early")
				}
				pending[c.id] = c
			}
			cursor, ok = pending[nextID]
		}
		delete(pending, nextID)

		for ex := range cursor.examples {
			ds.Examples = append(ds.Examples, ex)
		}
		if err := <-cursor.errCh; err != nil {
			return err
		}
		<-slots
		if limit > 0 && ds.Len() >= limit {
			return nil
		}
	}
	return nil
}

type orderEntry struct {
	root string
	path string
}

func buildRoundRobinOrder(roots map[string][]string, rng *rand.Rand) []orderEntry {
	rootNames := make([]string, 0, len(roots))
	copied := make(map[string][]string, len(roots))
	for root, shards := range roots {
		if len(shards) == 0 {
			continue
		}
		rootNames = append(rootNames, root)
		copied[root] = append([]string(nil), shards...)
	}
	sort.Strings(rootNames)
	for _, root := range rootNames {
		if rng != nil {
			rng.Shuffle(len(copied[root]), func(i, j int) {
				copied[root][i], copied[root][j] = copied[root][j], copied[root][i]
			})
		}
	}
	var order []orderEntry
	for {
		advanced := false
		for _, root := range rootNames {
			shards := copied[root]
			if len(shards) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: shards[0]})
			copied[root] = shards[1:]
			advanced = true
		}
		if !advanced {
			break
		}
	}
	return order
}
