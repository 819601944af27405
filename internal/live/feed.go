package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/internal/service"
)

// prependList is a newest-first list that grows from insert events. Each
// event's row is fetched again so it carries joined fields.
type prependList[T any] struct {
	name  string
	load  func(ctx context.Context) ([]T, error)
	fetch func(ctx context.Context, id uuid.UUID) (*T, error)
	idOf  func(T) uuid.UUID
	feed  realtime.ChangeFeed
	log   *slog.Logger

	mu      sync.RWMutex
	items   []T
	loading bool
	err     error
	sub     realtime.Subscription
	updates signal
}

func (l *prependList[T]) start(ctx context.Context, filter realtime.Filter) error {
	l.mu.Lock()
	if l.updates == nil {
		l.updates = newSignal()
	}
	l.loading = true
	l.mu.Unlock()

	sub, err := l.feed.Subscribe(ctx, filter, l.onInsert)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.name, err)
	}

	l.mu.Lock()
	old := l.sub
	l.sub = sub
	l.mu.Unlock()
	if old != nil {
		old.Unsubscribe()
	}

	items, err := l.load(ctx)

	l.mu.Lock()
	l.loading = false
	l.err = err
	if err != nil {
		l.log.Error("loading "+l.name, "error", err)
		items = nil
	}
	// Keep anything that arrived through events while loading.
	loaded := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		loaded[l.idOf(it)] = true
	}
	var early []T
	for _, it := range l.items {
		if !loaded[l.idOf(it)] {
			early = append(early, it)
		}
	}
	l.items = append(early, items...)
	l.mu.Unlock()
	l.updates.notify()
	return err
}

func (l *prependList[T]) onInsert(c realtime.Change) {
	rawID, err := c.RowID()
	if err != nil {
		l.log.Warn("ignoring "+l.name+" insert", "error", err)
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		l.log.Warn("ignoring "+l.name+" insert", "error", err)
		return
	}

	ctx, cancel := handlerContext()
	defer cancel()
	item, err := l.fetch(ctx, id)
	if err != nil || item == nil {
		l.log.Warn("fetching "+l.name+" insert", "id", id, "error", err)
		return
	}

	l.mu.Lock()
	for _, it := range l.items {
		if l.idOf(it) == id {
			l.mu.Unlock()
			return
		}
	}
	l.items = append([]T{*item}, l.items...)
	l.mu.Unlock()
	l.updates.notify()
}

func (l *prependList[T]) stop() {
	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (l *prependList[T]) snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]T(nil), l.items...)
}

func (l *prependList[T]) state() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loading, l.err
}

type SignalSource interface {
	GetSignals(ctx context.Context) ([]domain.Signal, error)
	GetSignal(ctx context.Context, id uuid.UUID) (*domain.Signal, error)
}

// Feed is the public signal feed, newest first. New signals are prepended
// for as long as the feed runs.
type Feed struct {
	list prependList[domain.Signal]
}

func NewFeed(source SignalSource, feed realtime.ChangeFeed, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{list: prependList[domain.Signal]{
		name:    "signals",
		load:    source.GetSignals,
		fetch:   source.GetSignal,
		idOf:    func(s domain.Signal) uuid.UUID { return s.ID },
		feed:    feed,
		log:     logger,
		loading: true,
		updates: newSignal(),
	}}
}

func (f *Feed) Start(ctx context.Context) error {
	return f.list.start(ctx, realtime.Filter{Table: repository.TableSignals, Event: realtime.EventInsert})
}

func (f *Feed) Stop() {
	f.list.stop()
}

func (f *Feed) Signals() []domain.Signal {
	return f.list.snapshot()
}

func (f *Feed) Updates() <-chan struct{} {
	return f.list.updates
}

func (f *Feed) Loading() bool {
	loading, _ := f.list.state()
	return loading
}

func (f *Feed) Err() error {
	_, err := f.list.state()
	return err
}

type CallSource interface {
	GetCalls(ctx context.Context) ([]domain.CallLog, error)
	GetCall(ctx context.Context, id uuid.UUID) (*domain.CallLog, error)
}

// CallHistory is the signed-in user's call log, newest first.
type CallHistory struct {
	list     prependList[domain.CallLog]
	identity service.Identity
}

func NewCallHistory(source CallSource, feed realtime.ChangeFeed, identity service.Identity, logger *slog.Logger) *CallHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallHistory{
		identity: identity,
		list: prependList[domain.CallLog]{
			name:    "calls",
			load:    source.GetCalls,
			fetch:   source.GetCall,
			idOf:    func(c domain.CallLog) uuid.UUID { return c.ID },
			feed:    feed,
			log:     logger,
			loading: true,
			updates: newSignal(),
		},
	}
}

func (h *CallHistory) Start(ctx context.Context) error {
	me, ok := h.identity.UserID()
	if !ok {
		return service.ErrNotAuthenticated
	}
	return h.list.start(ctx, realtime.Filter{
		Table:  repository.TableCalls,
		Event:  realtime.EventInsert,
		Column: "user_id",
		Value:  me.String(),
	})
}

func (h *CallHistory) Stop() {
	h.list.stop()
}

func (h *CallHistory) Calls() []domain.CallLog {
	return h.list.snapshot()
}

func (h *CallHistory) Updates() <-chan struct{} {
	return h.list.updates
}

func (h *CallHistory) Loading() bool {
	loading, _ := h.list.state()
	return loading
}

func (h *CallHistory) Err() error {
	_, err := h.list.state()
	return err
}
