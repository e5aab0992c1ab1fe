package docstore

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Snapshot is the full result set of a subscription at one point in time.
// Err is set when the query failed; Docs is then nil.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Subscription streams snapshots of a query. The first snapshot is sent
// as soon as the subscription opens and another after every write to the
// collection. Snapshots coalesce: a slow reader sees the latest state.
type Subscription struct {
	store  *SQLStore
	query  Query
	ch     chan Snapshot
	dirty  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe opens a snapshot stream for q. The stream ends when ctx is
// cancelled or Close is called.
func (s *SQLStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	q, err := q.normalized()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		store:  s,
		query:  q,
		ch:     make(chan Snapshot),
		dirty:  make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.register(sub)
	go sub.pump(ctx)
	return sub, nil
}

// Snapshots returns the stream. It is closed after Close.
func (sub *Subscription) Snapshots() <-chan Snapshot {
	return sub.ch
}

// Close stops the stream and waits for the pump goroutine to exit.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
	})
}

func (sub *Subscription) pump(ctx context.Context) {
	defer close(sub.done)
	defer close(sub.ch)
	defer sub.store.unregister(sub)

	for {
		docs, err := sub.store.run(ctx, sub.query)
		if ctx.Err() != nil {
			return
		}
		snap := Snapshot{Docs: docs}
		if err != nil {
			sub.store.Logger.Error("subscription query failed",
				zap.String("collection", sub.query.Collection),
				zap.Error(err))
			snap = Snapshot{Err: err}
		}
		select {
		case sub.ch <- snap:
		case <-ctx.Done():
			return
		}
		select {
		case <-sub.dirty:
		case <-ctx.Done():
			return
		}
	}
}

func (sub *Subscription) markDirty() {
	select {
	case sub.dirty <- struct{}{}:
	default:
	}
}

func (s *SQLStore) register(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[string]map[*Subscription]struct{}{}
	}
	set, ok := s.subs[sub.query.Collection]
	if !ok {
		set = map[*Subscription]struct{}{}
		s.subs[sub.query.Collection] = set
	}
	set[sub] = struct{}{}
}

func (s *SQLStore) unregister(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[sub.query.Collection]
	delete(set, sub)
	if len(set) == 0 {
		delete(s.subs, sub.query.Collection)
	}
}

func (s *SQLStore) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[collection] {
		sub.markDirty()
	}
}
