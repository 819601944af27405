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

type ConversationSource interface {
	GetConversations(ctx context.Context) ([]domain.ConversationWithDetails, error)
	CreateConversation(ctx context.Context, participantIDs []uuid.UUID, isGroup bool, name string) (*domain.Conversation, error)
}

// Registry is the signed-in user's conversation list. Any change to
// messages, conversations or the user's memberships reloads the whole list.
type Registry struct {
	source   ConversationSource
	feed     realtime.ChangeFeed
	identity service.Identity
	log      *slog.Logger

	mu        sync.RWMutex
	convs     []domain.ConversationWithDetails
	loading   bool
	err       error
	started   uint64
	committed uint64
	subs      []realtime.Subscription
	updates   signal
}

func NewRegistry(source ConversationSource, feed realtime.ChangeFeed, identity service.Identity, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		source:   source,
		feed:     feed,
		identity: identity,
		log:      logger,
		loading:  true,
		updates:  newSignal(),
	}
}

// Start subscribes to the tables the list depends on and performs the first
// load. A failed load leaves an empty list; the error is returned and kept
// in Err.
func (r *Registry) Start(ctx context.Context) error {
	me, ok := r.identity.UserID()
	if !ok {
		return service.ErrNotAuthenticated
	}

	filters := []realtime.Filter{
		{Table: repository.TableMessages},
		{Table: repository.TableConversations},
		{Table: repository.TableParticipants, Column: "user_id", Value: me.String()},
	}
	var subs []realtime.Subscription
	for _, f := range filters {
		sub, err := r.feed.Subscribe(ctx, f, r.onChange)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return fmt.Errorf("subscribing to %s: %w", f, err)
		}
		subs = append(subs, sub)
	}

	r.mu.Lock()
	old := r.subs
	r.subs = subs
	r.mu.Unlock()
	for _, s := range old {
		s.Unsubscribe()
	}

	return r.Refresh(ctx)
}

func (r *Registry) onChange(c realtime.Change) {
	ctx, cancel := handlerContext()
	defer cancel()

	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("reloading conversations", "table", c.Table, "error", err)
	}
}

// Refresh reloads the list. When reloads overlap, only a reload that started
// later than the last committed one is applied.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.started++
	seq := r.started
	r.mu.Unlock()

	convs, err := r.source.GetConversations(ctx)

	r.mu.Lock()
	if seq <= r.committed {
		r.mu.Unlock()
		return err
	}
	r.committed = seq
	r.loading = false
	r.err = err
	if err == nil {
		r.convs = convs
	} else if r.convs == nil {
		r.convs = []domain.ConversationWithDetails{}
	}
	r.mu.Unlock()

	r.updates.notify()
	return err
}

// Create creates a conversation, reloads the list and returns the new entry.
func (r *Registry) Create(ctx context.Context, participantIDs []uuid.UUID, isGroup bool, name string) (*domain.ConversationWithDetails, error) {
	conv, err := r.source.CreateConversation(ctx, participantIDs, isGroup, name)
	if err != nil {
		return nil, err
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	if d, ok := r.Get(conv.ID); ok {
		return &d, nil
	}
	return &domain.ConversationWithDetails{Conversation: *conv, Participants: []domain.Profile{}}, nil
}

func (r *Registry) Get(id uuid.UUID) (domain.ConversationWithDetails, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.convs {
		if c.ID == id {
			return c, true
		}
	}
	return domain.ConversationWithDetails{}, false
}

func (r *Registry) Conversations() []domain.ConversationWithDetails {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.ConversationWithDetails(nil), r.convs...)
}

func (r *Registry) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading
}

func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Registry) Updates() <-chan struct{} {
	return r.updates
}

// Stop drops the subscriptions. The last list stays readable.
func (r *Registry) Stop() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}
