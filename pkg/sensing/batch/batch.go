// Package batch buffers documents per destination collection and writes them
// with duplicate tolerant bulk inserts.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

const DefaultBatchSize = 2000

var ErrClosed = errors.New("batch sink closed")

// Store performs an unordered insert that ignores duplicate key errors and
// returns the number of new documents.
type Store interface {
	InsertMany(ctx context.Context, collection string, docs []any) (int, error)
}

// Sink accepts documents for a collection. Errors of automatic flushes are
// reported by the next Flush of that collection.
type Sink interface {
	Add(ctx context.Context, collection string, doc any) error
	Flush(ctx context.Context, collections ...string) error
}

// Writer buffers documents in memory. It is safe for concurrent use but meant
// to be owned by one user's ingestion at a time.
type Writer struct {
	store     Store
	batchSize int

	mu       sync.Mutex
	buffers  map[string][]any
	// owners of the documents currently buffered per collection
	owners   map[string]map[uint64]bool
	// failed writes per collection and owner, kept until that owner flushes
	failures map[string]map[uint64]error
	inserted map[string]int
}

func NewWriter(store Store, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{
		store:     store,
		batchSize: batchSize,
		buffers:   map[string][]any{},
		owners:    map[string]map[uint64]bool{},
		failures:  map[string]map[uint64]error{},
		inserted:  map[string]int{},
	}
}

func (w *Writer) Add(ctx context.Context, collection string, doc any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addLocked(ctx, 0, collection, doc)
	return nil
}

// Flush writes the named buffers, or all of them when none is named. Every
// collection is attempted; failures, including earlier automatic ones, are
// returned together.
func (w *Writer) Flush(ctx context.Context, collections ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushForLocked(ctx, 0, collections)
}

func (w *Writer) addFor(ctx context.Context, owner uint64, collection string, doc any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addLocked(ctx, owner, collection, doc)
}

func (w *Writer) flushFor(ctx context.Context, owner uint64, collections ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushForLocked(ctx, owner, collections)
}

// drain writes the buffer of collection and returns the pending failures of every owner.
func (w *Writer) drain(ctx context.Context, collection string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked(ctx, collection)

	owners := make([]uint64, 0, len(w.failures[collection]))
	for o := range w.failures[collection] {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	// one failed write is shared by all of its owners
	seen := map[error]bool{}
	var result *multierror.Error
	for _, o := range owners {
		err := w.failures[collection][o]
		if !seen[err] {
			seen[err] = true
			result = multierror.Append(result, err)
		}
	}
	delete(w.failures, collection)
	return result.ErrorOrNil()
}

func (w *Writer) addLocked(ctx context.Context, owner uint64, collection string, doc any) {
	w.buffers[collection] = append(w.buffers[collection], doc)
	if w.owners[collection] == nil {
		w.owners[collection] = map[uint64]bool{}
	}
	w.owners[collection][owner] = true
	if len(w.buffers[collection]) >= w.batchSize {
		w.flushLocked(ctx, collection)
	}
}

func (w *Writer) flushForLocked(ctx context.Context, owner uint64, collections []string) error {
	if len(collections) == 0 {
		collections = w.pendingLocked(owner)
	}

	var result *multierror.Error
	for _, c := range collections {
		w.flushLocked(ctx, c)
		if err := w.takeFailureLocked(c, owner); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (w *Writer) takeFailureLocked(collection string, owner uint64) error {
	err, ok := w.failures[collection][owner]
	if !ok {
		return nil
	}
	delete(w.failures[collection], owner)
	if len(w.failures[collection]) == 0 {
		delete(w.failures, collection)
	}
	return err
}

// Pending returns the number of buffered documents.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.buffers {
		n += len(b)
	}
	return n
}

// Inserted returns the number of new documents written per collection.
func (w *Writer) Inserted() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.inserted))
	for k, v := range w.inserted {
		out[k] = v
	}
	return out
}

func (w *Writer) pendingLocked(owner uint64) []string {
	names := make([]string, 0, len(w.buffers)+len(w.failures))
	seen := map[string]bool{}
	for c := range w.buffers {
		names = append(names, c)
		seen[c] = true
	}
	for c, byOwner := range w.failures {
		if _, ok := byOwner[owner]; ok && !seen[c] {
			names = append(names, c)
		}
	}
	sort.Strings(names)
	return names
}

func (w *Writer) flushLocked(ctx context.Context, collection string) {
	docs := w.buffers[collection]
	if len(docs) == 0 {
		return
	}
	owners := w.owners[collection]
	delete(w.buffers, collection)
	delete(w.owners, collection)

	n, err := w.store.InsertMany(ctx, collection, docs)
	w.inserted[collection] += n
	if err != nil {
		slog.Error("failed to write batch", slog.String("collection", collection), slog.Int("size", len(docs)), slog.Int("owners", len(owners)), slog.String("error", err.Error()))
		wrapped := fmt.Errorf("collection %s: %w", collection, err)
		if w.failures[collection] == nil {
			w.failures[collection] = map[uint64]error{}
		}
		for owner := range owners {
			if prev, ok := w.failures[collection][owner]; ok {
				w.failures[collection][owner] = multierror.Append(prev, wrapped)
			} else {
				w.failures[collection][owner] = wrapped
			}
		}
		return
	}
	slog.Debug("batch written", slog.String("collection", collection), slog.Int("size", len(docs)), slog.Int("inserted", n))
}
