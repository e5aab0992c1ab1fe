package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hubtrack/internal/config"
	"hubtrack/internal/docstore"
	"hubtrack/internal/domain"
	"hubtrack/internal/engine/auth"
	"hubtrack/internal/events"
	"hubtrack/internal/notify"
)

const (
	IssuesCollection      = "issues"
	InnovationsCollection = "innovations"
)

var (
	// ErrNotFound is returned for missing issues, innovations and comments.
	ErrNotFound = docstore.ErrNotFound
	// ErrNoActor is returned when a mutation is attempted without a signed-in user.
	ErrNoActor = errors.New("signed-in user required")
)

// CommentsCollection is the comment thread of one innovation.
func CommentsCollection(innovationID string) string {
	return docstore.DocPath(InnovationsCollection, innovationID) + "/comments"
}

func issuePath(id string) string      { return docstore.DocPath(IssuesCollection, id) }
func innovationPath(id string) string { return docstore.DocPath(InnovationsCollection, id) }

type Engine struct {
	Store  docstore.Store
	Events events.Log
	Gate   auth.Gate
	Config *config.Config
	Notify *notify.Dispatcher
	Logger *zap.Logger
	Now    func() time.Time
}

func New(store docstore.Store, log events.Log, cfg *config.Config, dispatcher *notify.Dispatcher, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		Store:  store,
		Events: log,
		Gate:   auth.NewGate(cfg.Authorization.Emails),
		Config: cfg,
		Notify: dispatcher,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Authorized reports whether p is on the allow-list.
func (e Engine) Authorized(p domain.Principal) bool {
	return e.Gate.Allowed(p.Email)
}

func (e Engine) require(p domain.Principal, action string) error {
	if strings.TrimSpace(p.UID) == "" {
		return ErrNoActor
	}
	return e.Gate.Require(p.Email, action)
}

func requireActor(p domain.Principal) error {
	if strings.TrimSpace(p.UID) == "" {
		return ErrNoActor
	}
	return nil
}

// audit appends to the activity log. The store write has already happened,
// so a failure here is logged and not returned.
func (e Engine) audit(ctx context.Context, actor domain.Principal, evtType, kind, id string, payload events.Payload) {
	if e.Events.DB == nil {
		return
	}
	err := e.Events.Append(ctx, nil, events.Event{
		Type:       evtType,
		EntityKind: kind,
		EntityID:   id,
		ActorID:    actor.UID,
		ActorName:  actor.DisplayLabel(),
		Payload:    payload,
	})
	if err != nil {
		e.logger().Error("append activity event failed",
			zap.String("type", evtType),
			zap.String("entity_id", id),
			zap.Error(err))
	}
}

// Activity returns the latest activity events, optionally for one record.
func (e Engine) Activity(ctx context.Context, entityID string, limit int) ([]events.Event, error) {
	if e.Events.DB == nil {
		return []events.Event{}, nil
	}
	evts, err := e.Events.Tail(ctx, entityID, limit)
	if err != nil {
		return nil, err
	}
	if evts == nil {
		evts = []events.Event{}
	}
	return evts, nil
}

func decodeAll[T any](docs []docstore.Document, fix func(*T)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.DataTo(&v); err != nil {
			return nil, err
		}
		if fix != nil {
			fix(&v)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeOne[T any](doc docstore.Document, fix func(*T)) (T, error) {
	var v T
	if err := doc.DataTo(&v); err != nil {
		return v, err
	}
	if fix != nil {
		fix(&v)
	}
	return v, nil
}

// Feed is a decoded subscription stream. Close is deterministic: it stops
// the underlying subscription and waits for the pump to exit.
type Feed[T any] struct {
	sub  *docstore.Subscription
	ch   chan T
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newFeed[T any](sub *docstore.Subscription, decode func(docstore.Snapshot) T) *Feed[T] {
	f := &Feed[T]{
		sub:  sub,
		ch:   make(chan T),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		defer close(f.ch)
		for {
			select {
			case snap, ok := <-sub.Snapshots():
				if !ok {
					return
				}
				select {
				case f.ch <- decode(snap):
				case <-f.stop:
					return
				}
			case <-f.stop:
				return
			}
		}
	}()
	return f
}

func (f *Feed[T]) Updates() <-chan T {
	return f.ch
}

func (f *Feed[T]) Close() {
	f.once.Do(func() {
		close(f.stop)
		f.sub.Close()
		<-f.done
	})
}

func (e Engine) watch(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	sub, err := e.Store.Subscribe(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}
	return sub, nil
}

func (e Engine) snapshotErr(collection string, err error) error {
	e.logger().Warn("snapshot failed", zap.String("collection", collection), zap.Error(err))
	return err
}
