package ws

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/live"
	"github.com/vedran77/nebula/internal/logging"
	"github.com/vedran77/nebula/internal/repository/memory"
	"github.com/vedran77/nebula/internal/service"
)

func TestSynchronizersOverGateway(t *testing.T) {
	g := newGateway(t, HubConfig{})
	store := memory.NewStore(g.bus, logging.Discard())
	accounts := memory.NewAccountRepo(store)
	profiles := memory.NewProfileRepo(store)
	convs := memory.NewConversationRepo(store)
	messages := memory.NewMessageRepo(store)
	ctx := context.Background()

	addUser := func(name string) uuid.UUID {
		id := uuid.New()
		now := time.Now()
		require.NoError(t, accounts.Create(ctx,
			&domain.Account{ID: id, Email: name + "@example.com", CreatedAt: now},
			&domain.Profile{ID: id, Username: name, CreatedAt: now, UpdatedAt: now, LastSeen: now},
		))
		return id
	}
	synchronizer := func(id uuid.UUID) (*live.Synchronizer, *service.ConversationService) {
		identity := service.StaticIdentity(id)
		remote := g.dial(t, id)
		conversations := service.NewConversationService(convs, messages, profiles, identity, logging.Discard())
		s := live.NewSynchronizer(live.SynchronizerConfig{
			Messages:  service.NewMessageService(messages, convs, identity, logging.Discard()),
			Reads:     conversations,
			Feed:      remote,
			Channels:  remote,
			Identity:  identity,
			Logger:    logging.Discard(),
			TypingTTL: time.Second,
		})
		t.Cleanup(s.Clear)
		return s, conversations
	}

	aliceID, bobID := addUser("alice"), addUser("bob")
	alice, aliceConvs := synchronizer(aliceID)
	bob, _ := synchronizer(bobID)

	conv, err := aliceConvs.CreateConversation(ctx, []uuid.UUID{bobID}, false, "")
	require.NoError(t, err)
	require.NoError(t, alice.Select(ctx, conv.ID))
	require.NoError(t, bob.Select(ctx, conv.ID))

	require.NoError(t, alice.SendTyping(ctx))
	require.Eventually(t, func() bool { return len(bob.TypingUsers()) == 1 }, waitFor, tick)
	require.Equal(t, []uuid.UUID{aliceID}, bob.TypingUsers())
	require.Empty(t, alice.TypingUsers())

	_, err = alice.SendMessage(ctx, "hello", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := bob.Messages()
		return len(msgs) == 1 && msgs[0].Sender != nil && msgs[0].Sender.Username == "alice"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(alice.Messages()) == 1 }, waitFor, tick)
}
