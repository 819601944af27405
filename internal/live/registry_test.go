package live

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/logging"
	"github.com/vedran77/nebula/internal/service"
)

func TestRegistryFollowsChanges(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	ctx := context.Background()

	reg := NewRegistry(bob.convs, b.bus, service.StaticIdentity(bob.id), logging.Discard())
	require.True(t, reg.Loading())
	require.NoError(t, reg.Start(ctx))
	t.Cleanup(reg.Stop)
	require.False(t, reg.Loading())
	require.Empty(t, reg.Conversations())

	conv := b.directConversation(t, alice, bob)
	require.Eventually(t, func() bool {
		_, ok := reg.Get(conv)
		return ok
	}, waitFor, tick)

	_, err := alice.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "ping"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		d, _ := reg.Get(conv)
		return d.LastMessage != nil && d.UnreadCount == 1
	}, waitFor, tick)

	d, _ := reg.Get(conv)
	require.Len(t, d.Participants, 2)
}

func TestRegistryCreateReturnsDetails(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	ctx := context.Background()

	reg := NewRegistry(alice.convs, b.bus, service.StaticIdentity(alice.id), logging.Discard())
	require.NoError(t, reg.Start(ctx))
	t.Cleanup(reg.Stop)

	d, err := reg.Create(ctx, []uuid.UUID{bob.id}, false, "")
	require.NoError(t, err)
	require.Len(t, d.Participants, 2)

	again, err := reg.Create(ctx, []uuid.UUID{bob.id}, false, "")
	require.NoError(t, err)
	require.Equal(t, d.ID, again.ID, "direct conversations are reused")
	require.Len(t, reg.Conversations(), 1)
}

func TestRegistryRequiresSignIn(t *testing.T) {
	b := newBackend(t)
	reg := NewRegistry(nil, b.bus, service.StaticIdentity(uuid.Nil), logging.Discard())
	require.ErrorIs(t, reg.Start(context.Background()), service.ErrNotAuthenticated)
}

// gatedSource answers each GetConversations call once its gate is opened.
type gatedSource struct {
	mu    sync.Mutex
	calls int
	gates []chan []domain.ConversationWithDetails
}

func (s *gatedSource) GetConversations(ctx context.Context) ([]domain.ConversationWithDetails, error) {
	s.mu.Lock()
	gate := s.gates[s.calls]
	s.calls++
	s.mu.Unlock()
	return <-gate, nil
}

func (s *gatedSource) CreateConversation(context.Context, []uuid.UUID, bool, string) (*domain.Conversation, error) {
	return nil, nil
}

func (s *gatedSource) called() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRegistryDropsOutOfOrderReloads(t *testing.T) {
	src := &gatedSource{gates: []chan []domain.ConversationWithDetails{make(chan []domain.ConversationWithDetails), make(chan []domain.ConversationWithDetails)}}
	reg := NewRegistry(src, nil, service.StaticIdentity(uuid.New()), logging.Discard())
	ctx := context.Background()

	older := []domain.ConversationWithDetails{{Conversation: domain.Conversation{ID: uuid.New()}}}
	newer := []domain.ConversationWithDetails{{Conversation: domain.Conversation{ID: uuid.New()}}}

	done := make(chan error, 1)
	go func() { done <- reg.Refresh(ctx) }()
	require.Eventually(t, func() bool { return src.called() == 1 }, waitFor, tick)

	go func() { src.gates[1] <- newer }()
	require.NoError(t, reg.Refresh(ctx))
	require.Equal(t, newer, reg.Conversations())

	src.gates[0] <- older
	require.NoError(t, <-done)
	require.Equal(t, newer, reg.Conversations(), "the earlier reload finished last and is dropped")
}
