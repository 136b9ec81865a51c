package sync

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sidkik/pairsync/pkg/errors"
)

// DefaultWorkers is the number of concurrent writes used when the
// configuration doesn't specify one.
const DefaultWorkers = 8

// Executor applies received entries to durable storage and the Index.
type Executor struct {
	store   Store
	index   *Index
	workers int
}

// NewExecutor returns an Executor that writes to `store` and updates `index`,
// with at most `workers` writes in flight.
func NewExecutor(store Store, index *Index, workers int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Executor{store: store, index: index, workers: workers}
}

// Pending tracks entries whose writes have been dispatched.
type Pending struct {
	done    chan struct{}
	written int
	err     error
}

// Wait blocks until every dispatched write finishes, and returns the number
// of entries that were persisted along with the first storage error.
func (p *Pending) Wait() (int, error) {
	<-p.done
	return p.written, p.err
}

// Apply persists `entries` and blocks until every write finishes. A failed
// write doesn't stop or roll back the others.
func (e *Executor) Apply(entries []FileEntry) (int, error) {
	return e.Dispatch(entries).Wait()
}

// Dispatch updates the Index with `entries` before returning, and persists
// them in the background. Writes for distinct entries are independent, and
// run concurrently in no particular order.
//
// Entries whose names can't be stored are neither indexed nor written, and
// are reported by Wait as a StorageError.
//
// Ownership of each entry's data passes to the Executor: the same slice is
// held by the Index and handed to the Store, and neither modifies it.
func (e *Executor) Dispatch(entries []FileEntry) *Pending {
	var accepted []FileEntry
	var rejectErr error
	for _, f := range entries {
		if err := CheckName(f.Name); err != nil {
			metricWriteFailures.Inc()
			if rejectErr == nil {
				rejectErr = errors.StorageError{Name: f.Name, Err: err}
			}
			continue
		}
		e.index.Put(f)
		accepted = append(accepted, f)
	}

	pending := &Pending{done: make(chan struct{})}
	go func() {
		defer close(pending.done)

		var written int64
		var group errgroup.Group
		group.SetLimit(e.workers)
		for _, f := range accepted {
			f := f
			group.Go(func() error {
				if err := e.store.Write(f.Name, f.Data); err != nil {
					metricWriteFailures.Inc()
					return err
				}
				metricEntriesApplied.Inc()
				metricBytesApplied.Add(float64(len(f.Data)))
				atomic.AddInt64(&written, 1)
				return nil
			})
		}
		pending.err = group.Wait()
		if pending.err == nil {
			pending.err = rejectErr
		}
		pending.written = int(atomic.LoadInt64(&written))
	}()
	return pending
}
