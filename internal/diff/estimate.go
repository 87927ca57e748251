package diff

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/pkg/types"
)

// Accuracy selects the estimation strategy: exact counting, or shard
// sampling with a tier-dependent sample size.
type Accuracy string

const (
	AccuracyVeryFast Accuracy = "veryfast"
	AccuracyFast     Accuracy = "fast"
	AccuracyMedium   Accuracy = "medium"
	AccuracyGood     Accuracy = "good"
	AccuracyExact    Accuracy = "exact"
)

// SampleCount returns the number of level-1 shards sampled per tier.
func (a Accuracy) SampleCount() int {
	switch a {
	case AccuracyVeryFast:
		return 2
	case AccuracyFast:
		return 16
	case AccuracyMedium:
		return 32
	case AccuracyGood:
		return 64
	}
	return 0
}

// Valid reports whether a names a known tier.
func (a Accuracy) Valid() bool {
	switch a {
	case AccuracyVeryFast, AccuracyFast, AccuracyMedium, AccuracyGood, AccuracyExact:
		return true
	}
	return false
}

// EstimateMemo caches estimates in a process-external annotation store.
// Keys embed content-addressed tree ids, so entries never need
// invalidation.
type EstimateMemo interface {
	GetEstimate(key string) (int64, bool, error)
	PutEstimate(key string, count int64) error
}

// EstimateOptions controls an estimation run.
type EstimateOptions struct {
	Accuracy Accuracy
	// Token is polled between per-dataset steps; when cancelled the run
	// raises ErrThreadTerminated instead of returning partial results.
	Token *CancelToken
	// Memo caches pure commit-to-commit results. Ignored when a working
	// copy participates.
	Memo EstimateMemo
	// WorkingCopy + IncludeWCDiff append a working-copy stage, which
	// forces exact counting and disables the memo.
	WorkingCopy   WorkingCopySource
	IncludeWCDiff bool
}

// EstimateFeatureCounts returns an approximate (or exact) feature-change
// count per dataset path between two trees.
//
// The sampling strategy exploits the path codec: pks are uniformly
// hash-distributed across the two-level shard fan-out, so comparing a
// sample of level-1 shards between the snapshots approximates the whole.
// When a dataset has fewer shards than the sample size, sampling
// degenerates to exact counting.
func EstimateFeatureCounts(ctx context.Context, odb *object.ODB, baseTree, targetTree *object.Tree, opts EstimateOptions) (map[string]int64, error) {
	if !opts.Accuracy.Valid() {
		opts.Accuracy = AccuracyFast
	}

	newRoot := targetTree
	if opts.IncludeWCDiff && opts.WorkingCopy != nil {
		wcTree, err := opts.WorkingCopy.DiffToTree(ctx)
		if err != nil {
			return nil, err
		}
		newRoot = wcTree
		opts.Memo = nil
	}

	dsPaths, err := unionDatasetPaths(ctx, odb, baseTree, newRoot)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(dsPaths))
	for _, dsPath := range dsPaths {
		if opts.Token.Cancelled() {
			return nil, errors.ErrThreadTerminated
		}
		n, err := estimateDataset(ctx, odb, baseTree, newRoot, dsPath, opts)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[dsPath] = n
		}
	}
	return out, nil
}

func estimateDataset(ctx context.Context, odb *object.ODB, oldRoot, newRoot *object.Tree, dsPath string, opts EstimateOptions) (int64, error) {
	oldDS, err := dataset.Open(ctx, odb, oldRoot, dsPath)
	if err != nil {
		return 0, err
	}
	newDS, err := dataset.Open(ctx, odb, newRoot, dsPath)
	if err != nil {
		return 0, err
	}
	oldFT, err := featureTree(ctx, oldDS)
	if err != nil {
		return 0, err
	}
	newFT, err := featureTree(ctx, newDS)
	if err != nil {
		return 0, err
	}
	if oldFT.ID() == newFT.ID() {
		return 0, nil
	}

	memoKey := fmt.Sprintf("diff-estimate:%s:%s:%s", oldFT.ID(), newFT.ID(), opts.Accuracy)
	if opts.Memo != nil {
		if n, ok, err := opts.Memo.GetEstimate(memoKey); err == nil && ok {
			return n, nil
		}
	}

	var count int64
	samples := opts.Accuracy.SampleCount()
	if samples == 0 {
		count, err = exactCount(ctx, odb, oldFT, newFT)
	} else {
		count, err = sampledCount(ctx, odb, oldFT, newFT, samples, opts.Token)
	}
	if err != nil {
		return 0, err
	}
	if opts.Memo != nil {
		// A failed memo write never fails the estimate.
		if err := opts.Memo.PutEstimate(memoKey, count); err != nil {
			log.Printf("diff: estimate memo write failed: %v", err)
		}
	}
	return count, nil
}

func exactCount(ctx context.Context, odb *object.ODB, oldFT, newFT *object.Tree) (int64, error) {
	var n int64
	err := object.DiffTrees(ctx, odb, oldFT, newFT, func(object.TreeDelta) error {
		n++
		return nil
	})
	return n, err
}

// sampledCount samples a fixed number of level-1 shard directories,
// counts the exact changes within them, and extrapolates linearly by the
// sampled fraction. The linear extrapolation is a deliberate tunable: its
// expected error shrinks with the sample count and tests assert a
// tolerance band, not a formula.
func sampledCount(ctx context.Context, odb *object.ODB, oldFT, newFT *object.Tree, samples int, token *CancelToken) (int64, error) {
	names := shardUnion(oldFT, newFT)
	if len(names) <= samples {
		return exactCount(ctx, odb, oldFT, newFT)
	}

	// Deterministic sample pick: order shards by a murmur3 hash seeded
	// from both tree ids, then take the first N. Repeated estimates of
	// the same tree pair sample the same shards, so memoized results
	// are reproducible.
	seed := murmur3.Sum64([]byte(oldFT.ID().Hex() + newFT.ID().Hex()))
	sort.Slice(names, func(i, j int) bool {
		return murmur3.Sum64WithSeed([]byte(names[i]), uint32(seed)) <
			murmur3.Sum64WithSeed([]byte(names[j]), uint32(seed))
	})

	var sampled int64
	for i := 0; i < samples; i++ {
		if token.Cancelled() {
			return 0, errors.ErrThreadTerminated
		}
		name := names[i]
		oldSub, err := shardTree(ctx, odb, oldFT, name)
		if err != nil {
			return 0, err
		}
		newSub, err := shardTree(ctx, odb, newFT, name)
		if err != nil {
			return 0, err
		}
		n, err := exactCount(ctx, odb, oldSub, newSub)
		if err != nil {
			return 0, err
		}
		sampled += n
	}
	scale := float64(len(names)) / float64(samples)
	return int64(math.Round(float64(sampled) * scale)), nil
}

func shardUnion(a, b *object.Tree) []string {
	seen := map[string]bool{}
	var names []string
	for _, t := range []*object.Tree{a, b} {
		for _, e := range t.Entries() {
			if e.Kind == types.KindTree && !seen[e.Name] {
				seen[e.Name] = true
				names = append(names, e.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func shardTree(ctx context.Context, odb *object.ODB, ft *object.Tree, name string) (*object.Tree, error) {
	e, ok := ft.Get(name)
	if !ok || e.Kind != types.KindTree {
		return &object.Tree{}, nil
	}
	return odb.GetTree(ctx, e.ID)
}
