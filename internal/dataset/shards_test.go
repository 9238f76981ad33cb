package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRoundRobinOrderDeterministic(t *testing.T) {
	roots := map[string][]string{
		"/rootA": {"/rootA/train-000000.tar", "/rootA/train-000002.tar"},
		"/rootB": {"/rootB/train-000001.tar"},
	}
	order1 := buildRoundRobinOrder(roots, rand.New(rand.NewSource(7)))
	order2 := buildRoundRobinOrder(roots, rand.New(rand.NewSource(7)))

	assert.Equal(t, order1, order2)
	require.Len(t, order1, 3)
	assert.NotEqual(t, order1[0].root, order1[1].root, "expected alternating roots")
}

func TestLoadShardsDeterministicOrder(t *testing.T) {
	temp := t.TempDir()
	rootA := filepath.Join(temp, "rootA")
	rootB := filepath.Join(temp, "rootB")
	opts := ShardOptions{
		Roots: map[string][]string{
			rootA: {
				writeShard(t, filepath.Join(rootA, "train-000000.tar"), map[string]int{"a0": 0, "a1": 1}),
				writeShard(t, filepath.Join(rootA, "train-000002.tar"), map[string]int{"a2": 2}),
			},
			rootB: {
				writeShard(t, filepath.Join(rootB, "train-000001.tar"), map[string]int{"b0": 3}),
			},
		},
		Shape:      smallShape,
		Seed:       123,
		NumWorkers: 3,
	}

	run1, err := LoadShards(context.Background(), opts)
	require.NoError(t, err)
	run2, err := LoadShards(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, keys(run1), keys(run2))
	assert.ElementsMatch(t, []string{"a0", "a1", "a2", "b0"}, keys(run1))
	assert.Equal(t, smallShape, run1.Shape)
}

func TestLoadShardsLimit(t *testing.T) {
	root := t.TempDir()
	opts := ShardOptions{
		Roots: map[string][]string{
			root: {
				writeShard(t, filepath.Join(root, "train-000000.tar"), map[string]int{"x0": 0, "x1": 1, "x2": 2}),
				writeShard(t, filepath.Join(root, "train-000001.tar"), map[string]int{"y0": 0, "y1": 1}),
			},
		},
		Shape:      smallShape,
		NumWorkers: 2,
		Limit:      2,
	}
	ds, err := LoadShards(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}

func TestProduceJobsWaitsForFreeSlot(t *testing.T) {
	order := make([]orderEntry, 5)
	for i := range order {
		order[i] = orderEntry{root: "/r", path: fmt.Sprintf("/r/train-%06d.tar", i)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := make(chan shardJob, len(order))
	slots := make(chan struct{}, 2)
	go produceJobs(ctx, jobs, slots, order)

	assert.Equal(t, 0, (<-jobs).id)
	assert.Equal(t, 1, (<-jobs).id)
	select {
	case job := <-jobs:
		t.Fatalf("job %d dispatched while every slot is held", job.id)
	case <-time.After(50 * time.Millisecond):
	}

	<-slots
	assert.Equal(t, 2, (<-jobs).id)
}

func TestLoadShardsManyShardsFewWorkers(t *testing.T) {
	root := t.TempDir()
	var shards []string
	var want []string
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("s%d", i)
		shards = append(shards, writeShard(t, filepath.Join(root, fmt.Sprintf("train-%06d.tar", i)), map[string]int{key: i}))
		want = append(want, key)
	}
	ds, err := LoadShards(context.Background(), ShardOptions{
		Roots:      map[string][]string{root: shards},
		Shape:      smallShape,
		Seed:       9,
		NumWorkers: 1,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, want, keys(ds))
}

func TestTruncate(t *testing.T) {
	ds := &Dataset{Examples: make([]Example, 5)}
	ds.Truncate(0)
	assert.Equal(t, 5, ds.Len())
	ds.Truncate(9)
	assert.Equal(t, 5, ds.Len())
	ds.Truncate(3)
	assert.Equal(t, 3, ds.Len())
}

func TestLoadShardsWithoutShards(t *testing.T) {
	_, err := LoadShards(context.Background(), ShardOptions{Roots: map[string][]string{"/empty": nil}})
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = LoadShards(context.Background(), ShardOptions{})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func keys(ds *Dataset) []string {
	out := make([]string, 0, ds.Len())
	for _, ex := range ds.Examples {
		out = append(out, ex.Key)
	}
	return out
}
