package batch

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

type request struct {
	ctx   context.Context
	owner uint64
	doc   any
	flush chan error
}

// lane is the only goroutine touching the buffer of its collection.
type lane struct {
	in     chan request
	writer *Writer
}

// Router fans documents out to one writer goroutine per collection. It is used
// when several users are ingested in parallel, each through its own Session.
type Router struct {
	store     Store
	batchSize int
	owners    atomic.Uint64

	mu     sync.RWMutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

func NewRouter(store Store, batchSize int) *Router {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Router{
		store:     store,
		batchSize: batchSize,
		lanes:     map[string]*lane{},
	}
}

// Session is one caller's view of a shared Router. A failed write is reported to
// every session that had documents in it, whichever session triggered the write.
type Session struct {
	router *Router
	owner  uint64
}

func (r *Router) Session() *Session {
	return &Session{router: r, owner: r.owners.Add(1)}
}

func (s *Session) Add(ctx context.Context, collection string, doc any) error {
	return s.router.add(ctx, s.owner, collection, doc)
}

func (s *Session) Flush(ctx context.Context, collections ...string) error {
	return s.router.flush(ctx, s.owner, collections)
}

func (r *Router) Add(ctx context.Context, collection string, doc any) error {
	return r.add(ctx, 0, collection, doc)
}

// Flush asks the named lanes, or every lane, to write their buffers and waits for all of them.
func (r *Router) Flush(ctx context.Context, collections ...string) error {
	return r.flush(ctx, 0, collections)
}

func (r *Router) add(ctx context.Context, owner uint64, collection string, doc any) error {
	l, err := r.lane(collection)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case l.in <- request{ctx: ctx, owner: owner, doc: doc}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) flush(ctx context.Context, owner uint64, collections []string) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	if len(collections) == 0 {
		for c := range r.lanes {
			collections = append(collections, c)
		}
		sort.Strings(collections)
	}

	acks := make([]chan error, 0, len(collections))
	for _, c := range collections {
		l, ok := r.lanes[c]
		if !ok {
			continue
		}
		ack := make(chan error, 1)
		select {
		case l.in <- request{ctx: ctx, owner: owner, flush: ack}:
			acks = append(acks, ack)
		case <-ctx.Done():
			r.mu.RUnlock()
			return ctx.Err()
		}
	}
	r.mu.RUnlock()

	var result *multierror.Error
	for _, ack := range acks {
		select {
		case err := <-ack:
			if err != nil {
				result = multierror.Append(result, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return result.ErrorOrNil()
}

// Close stops the lane goroutines and writes whatever they still buffer.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	lanes := make(map[string]*lane, len(r.lanes))
	for c, l := range r.lanes {
		close(l.in)
		lanes[c] = l
	}
	r.mu.Unlock()

	r.wg.Wait()

	names := make([]string, 0, len(lanes))
	for c := range lanes {
		names = append(names, c)
	}
	sort.Strings(names)

	var result *multierror.Error
	for _, c := range names {
		if err := lanes[c].writer.drain(ctx, c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Inserted sums the new documents written per collection. Call after Close.
func (r *Router) Inserted() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for c, l := range r.lanes {
		out[c] = l.writer.Inserted()[c]
	}
	return out
}

func (r *Router) lane(collection string) (*lane, error) {
	r.mu.RLock()
	l, ok := r.lanes[collection]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return l, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if l, ok := r.lanes[collection]; ok {
		return l, nil
	}
	l = &lane{
		in:     make(chan request, r.batchSize),
		writer: NewWriter(r.store, r.batchSize),
	}
	r.lanes[collection] = l
	r.wg.Add(1)
	go r.run(collection, l)
	return l, nil
}

func (r *Router) run(collection string, l *lane) {
	defer r.wg.Done()
	for req := range l.in {
		if req.flush != nil {
			req.flush <- l.writer.flushFor(req.ctx, req.owner, collection)
			continue
		}
		l.writer.addFor(req.ctx, req.owner, collection, req.doc)
	}
}
