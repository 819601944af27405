package live

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/logging"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/repository/memory"
	"github.com/vedran77/nebula/internal/service"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// backend is an in-process stand-in for the hosted backend: rows in a
// memory store whose changes fan out through a bus.
type backend struct {
	bus      *realtime.Bus
	store    *memory.Store
	accounts *memory.AccountRepo
	profiles *memory.ProfileRepo
	convs    *memory.ConversationRepo
	messages *memory.MessageRepo
	calls    *memory.CallRepo
	signals  *memory.SignalRepo
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	bus := realtime.NewBus(logging.Discard())
	t.Cleanup(bus.Close)
	store := memory.NewStore(bus, logging.Discard())
	return &backend{
		bus:      bus,
		store:    store,
		accounts: memory.NewAccountRepo(store),
		profiles: memory.NewProfileRepo(store),
		convs:    memory.NewConversationRepo(store),
		messages: memory.NewMessageRepo(store),
		calls:    memory.NewCallRepo(store),
		signals:  memory.NewSignalRepo(store),
	}
}

func (b *backend) addUser(t *testing.T, username string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now()
	require.NoError(t, b.accounts.Create(context.Background(),
		&domain.Account{ID: id, Email: username + "@example.com", CreatedAt: now},
		&domain.Profile{ID: id, Username: username, CreatedAt: now, UpdatedAt: now, LastSeen: now},
	))
	return id
}

// client is one signed-in user's view of the backend.
type client struct {
	id       uuid.UUID
	convs    *service.ConversationService
	messages *service.MessageService
	sync     *Synchronizer
}

func (b *backend) client(t *testing.T, id uuid.UUID) *client {
	t.Helper()
	identity := service.StaticIdentity(id)
	c := &client{
		id:       id,
		convs:    service.NewConversationService(b.convs, b.messages, b.profiles, identity, logging.Discard()),
		messages: service.NewMessageService(b.messages, b.convs, identity, logging.Discard()),
	}
	c.sync = NewSynchronizer(SynchronizerConfig{
		Messages:  c.messages,
		Reads:     c.convs,
		Feed:      b.bus,
		Channels:  b.bus,
		Identity:  identity,
		Logger:    logging.Discard(),
		TypingTTL: 150 * time.Millisecond,
	})
	t.Cleanup(c.sync.Clear)
	return c
}

func (b *backend) directConversation(t *testing.T, a, other *client) uuid.UUID {
	t.Helper()
	conv, err := a.convs.CreateConversation(context.Background(), []uuid.UUID{other.id}, false, "")
	require.NoError(t, err)
	return conv.ID
}

func contents(msgs []domain.MessageWithSender) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Content == nil {
			out[i] = "<nil>"
			continue
		}
		out[i] = *m.Content
	}
	return out
}
