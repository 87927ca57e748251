package object

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tablevc/tablevc/pkg/types"
)

// Remote fetches object content by id from a promisor remote. FetchBatch
// returns whatever subset it could retrieve; missing entries are reported
// per id in the error map.
type Remote interface {
	FetchBatch(ctx context.Context, ids []types.OID) (map[types.OID][]byte, map[types.OID]error)
}

// Promisor tracks which absent objects a partial clone has been promised
// by a remote, and fetches them in batches on demand. The registry is what
// distinguishes "not fetched yet" from corruption: a missing object whose
// id is registered here is expected, any other missing object is not.
type Promisor struct {
	remote      Remote
	concurrency int

	mu       sync.RWMutex
	promised map[types.OID]bool
}

// NewPromisor creates a promised-object registry fetching from remote with
// at most concurrency parallel batch slices.
func NewPromisor(remote Remote, concurrency int) *Promisor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Promisor{
		remote:      remote,
		concurrency: concurrency,
		promised:    make(map[types.OID]bool),
	}
}

// MarkPromised registers ids as promised by the remote.
func (p *Promisor) MarkPromised(ids ...types.OID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.promised[id] = true
	}
}

// IsPromised reports whether an absent object is a known promise.
func (p *Promisor) IsPromised(id types.OID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.promised[id]
}

// fetchBatchSize bounds one remote round trip.
const fetchBatchSize = 64

// FetchBatch retrieves the given promised objects into the backend. It is
// called once per diff request with every deferred id, after all locally
// available output has already been streamed; it blocks until the batch
// completes. Slices of the batch run in parallel under a semaphore.
func (p *Promisor) FetchBatch(ctx context.Context, odb *ODB, ids []types.OID) error {
	if len(ids) == 0 {
		return nil
	}
	log.Printf("Fetching %d promised objects from remote", len(ids))

	sem := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		slice := ids[start:end]

		if err := sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("object: fetch cancelled: %w", err)
		}
		wg.Add(1)
		go func(slice []types.OID) {
			defer sem.Release(1)
			defer wg.Done()

			fetched, errs := p.remote.FetchBatch(ctx, slice)
			mu.Lock()
			defer mu.Unlock()
			for id, data := range fetched {
				if err := odb.backend.Put(ctx, id, data); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			for id, err := range errs {
				if firstErr == nil {
					firstErr = fmt.Errorf("object: fetch promised %s: %w", id, err)
				}
			}
		}(slice)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	p.mu.Lock()
	for _, id := range ids {
		delete(p.promised, id)
	}
	p.mu.Unlock()
	return nil
}
