package live

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/logging"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/internal/service"
)

func TestHelloReachesOtherParticipant(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	require.NoError(t, bob.sync.Select(ctx, conv))
	require.Equal(t, StateLive, bob.sync.State())
	require.NoError(t, alice.sync.Select(ctx, conv))

	_, err := alice.sync.SendMessage(ctx, "hello", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := bob.sync.Messages()
		return len(msgs) == 1 && *msgs[0].Content == "hello"
	}, waitFor, tick)

	got := bob.sync.Messages()[0]
	require.Equal(t, alice.id, got.SenderID)
	require.NotNil(t, got.Sender)
	require.Equal(t, "alice", got.Sender.Username)

	require.Eventually(t, func() bool { return len(alice.sync.Messages()) == 1 }, waitFor, tick)
}

func TestBurstReachesOtherParticipantInOrder(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	require.NoError(t, bob.sync.Select(ctx, conv))

	const burst = 1000
	want := make([]string, burst)
	for i := range want {
		want[i] = strconv.Itoa(i)
		_, err := alice.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: want[i]})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(bob.sync.Messages()) == burst }, 10*time.Second, 10*time.Millisecond)
	require.Equal(t, want, contents(bob.sync.Messages()))
}

func TestHistoryLoadedOnSelect(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := alice.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: text})
		require.NoError(t, err)
	}

	require.NoError(t, bob.sync.Select(ctx, conv))
	require.Equal(t, []string{"one", "two", "three"}, contents(bob.sync.Messages()))

	list, err := bob.convs.GetConversations(ctx)
	require.NoError(t, err)
	require.Zero(t, list[0].UnreadCount, "selecting stamps last read")
}

func TestEventSequence(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	require.NoError(t, bob.sync.Select(ctx, conv))

	first, err := alice.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "first"})
	require.NoError(t, err)
	second, err := alice.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "second"})
	require.NoError(t, err)
	require.NoError(t, alice.messages.EditMessage(ctx, first.ID, "first, edited"))
	require.NoError(t, alice.messages.DeleteMessage(ctx, second.ID))
	third, err := alice.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "third"})
	require.NoError(t, err)
	require.NoError(t, b.messages.Remove(ctx, third.ID))

	require.Eventually(t, func() bool {
		msgs := bob.sync.Messages()
		return len(msgs) == 2 && msgs[0].IsEdited && msgs[1].IsDeleted
	}, waitFor, tick)

	msgs := bob.sync.Messages()
	require.Equal(t, []string{"first, edited", "<nil>"}, contents(msgs))
	require.True(t, msgs[0].IsEdited)
	require.Equal(t, "alice", msgs[0].Sender.Username, "updates keep the joined sender")
	require.Equal(t, second.ID, msgs[1].ID)
	require.Nil(t, msgs[1].MediaURL)
}

func TestSwitchingTearsDownPreviousConversation(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	carol := b.client(t, b.addUser(t, "carol"))
	withBob := b.directConversation(t, alice, bob)
	withCarol := b.directConversation(t, alice, carol)
	ctx := context.Background()

	require.NoError(t, alice.sync.Select(ctx, withBob))
	require.NoError(t, alice.sync.Select(ctx, withCarol))

	require.NoError(t, b.bus.Send(ctx, TypingChannel(withBob), TypingEvent, map[string]string{"userId": bob.id.String()}))
	_, err := bob.messages.SendMessage(ctx, withBob, service.SendMessageInput{Content: "wrong room"})
	require.NoError(t, err)
	_, err = carol.messages.SendMessage(ctx, withCarol, service.SendMessageInput{Content: "right room"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(alice.sync.Messages()) == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, []string{"right room"}, contents(alice.sync.Messages()))
	require.Empty(t, alice.sync.TypingUsers())
	active, ok := alice.sync.Active()
	require.True(t, ok)
	require.Equal(t, withCarol, active)
}

func TestClearReturnsToIdle(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	require.NoError(t, alice.sync.Select(ctx, conv))
	alice.sync.Clear()
	require.Equal(t, StateIdle, alice.sync.State())

	_, err := bob.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "anyone?"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, alice.sync.Messages())

	_, err = alice.sync.SendMessage(ctx, "hi", "")
	require.ErrorIs(t, err, ErrNoActiveConversation)
}

func TestSendMessageValidation(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	_, err := alice.sync.SendMessage(ctx, "   ", "")
	require.ErrorIs(t, err, ErrEmptyMessage)
	_, err = alice.sync.SendMessage(ctx, "hi", "")
	require.ErrorIs(t, err, ErrNoActiveConversation)

	require.NoError(t, alice.sync.Select(ctx, conv))
	_, err = alice.sync.SendMessage(ctx, "", "")
	require.ErrorIs(t, err, ErrEmptyMessage)

	history, err := alice.messages.GetMessages(ctx, conv, 50, 0)
	require.NoError(t, err)
	require.Empty(t, history, "rejected sends write nothing")

	msg, err := alice.sync.SendMessage(ctx, "", "https://cdn.example/chat-media/clip.MP4")
	require.NoError(t, err)
	require.Equal(t, domain.MessageVideo, msg.Type)

	require.ErrorIs(t, alice.sync.EditMessage(ctx, uuid.New(), "x"), ErrUnknownMessage)
	require.ErrorIs(t, alice.sync.MarkRead(ctx, uuid.New()), ErrUnknownMessage)
}

func TestMarkReadTwiceViaSynchronizer(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	msg, err := alice.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "read me"})
	require.NoError(t, err)
	require.NoError(t, bob.sync.Select(ctx, conv))

	require.NoError(t, bob.sync.MarkRead(ctx, msg.ID))
	require.NoError(t, bob.sync.MarkRead(ctx, msg.ID))
	require.Equal(t, 1, b.messages.ReadCount(msg.ID))
}

func TestTypingSignals(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	require.NoError(t, alice.sync.Select(ctx, conv))
	require.NoError(t, bob.sync.Select(ctx, conv))

	for i := 0; i < 3; i++ {
		require.NoError(t, bob.sync.SendTyping(ctx))
	}
	require.Eventually(t, func() bool { return len(alice.sync.TypingUsers()) == 1 }, waitFor, tick)
	require.Equal(t, []uuid.UUID{bob.id}, alice.sync.TypingUsers())
	require.Empty(t, bob.sync.TypingUsers(), "own signals are ignored")

	require.Eventually(t, func() bool { return len(alice.sync.TypingUsers()) == 0 }, waitFor, tick)
}

// blockingSource serves history from a fixed map, blocking the first
// fetch of a chosen conversation until released.
type blockingSource struct {
	*service.MessageService
	blockOn uuid.UUID
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSource) GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.MessageWithSender, error) {
	if conversationID == s.blockOn {
		blocked := false
		s.once.Do(func() { blocked = true })
		if blocked {
			close(s.started)
			<-s.release
		}
	}
	return s.MessageService.GetMessages(ctx, conversationID, limit, offset)
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	carol := b.client(t, b.addUser(t, "carol"))
	slow := b.directConversation(t, alice, bob)
	fast := b.directConversation(t, alice, carol)
	ctx := context.Background()

	_, err := bob.messages.SendMessage(ctx, slow, service.SendMessageInput{Content: "old room"})
	require.NoError(t, err)
	_, err = carol.messages.SendMessage(ctx, fast, service.SendMessageInput{Content: "new room"})
	require.NoError(t, err)

	src := &blockingSource{
		MessageService: alice.messages,
		blockOn:        slow,
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s := NewSynchronizer(SynchronizerConfig{
		Messages: src, Reads: alice.convs, Feed: b.bus, Channels: b.bus,
		Identity: service.StaticIdentity(alice.id), Logger: logging.Discard(),
	})
	t.Cleanup(s.Clear)

	done := make(chan error, 1)
	go func() { done <- s.Select(ctx, slow) }()
	<-src.started
	require.Equal(t, StateLoading, s.State())

	require.NoError(t, s.Select(ctx, fast))
	close(src.release)
	require.NoError(t, <-done)

	active, _ := s.Active()
	require.Equal(t, fast, active)
	require.Equal(t, []string{"new room"}, contents(s.Messages()))
	require.Equal(t, StateLive, s.State())
}

func TestEventsDuringLoadingAreReplayed(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	src := &blockingSource{
		MessageService: alice.messages,
		blockOn:        conv,
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s := NewSynchronizer(SynchronizerConfig{
		Messages: src, Reads: alice.convs, Feed: b.bus, Channels: b.bus,
		Identity: service.StaticIdentity(alice.id), Logger: logging.Discard(),
	})
	t.Cleanup(s.Clear)

	done := make(chan error, 1)
	go func() { done <- s.Select(ctx, conv) }()
	<-src.started

	// Sent after the subscription exists but before history is read, so
	// it arrives both as an event and in the history page.
	msg, err := bob.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "racing"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	close(src.release)
	require.NoError(t, <-done)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, msg.ID, msgs[0].ID)
}

type failingSource struct {
	*service.MessageService
}

var errBackendDown = errors.New("backend down")

func (failingSource) GetMessages(context.Context, uuid.UUID, int, int) ([]domain.MessageWithSender, error) {
	return nil, errBackendDown
}

func TestFetchFailureStillGoesLive(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()

	s := NewSynchronizer(SynchronizerConfig{
		Messages: failingSource{alice.messages}, Reads: alice.convs, Feed: b.bus, Channels: b.bus,
		Identity: service.StaticIdentity(alice.id), Logger: logging.Discard(),
	})
	t.Cleanup(s.Clear)

	require.ErrorIs(t, s.Select(ctx, conv), errBackendDown)
	require.Equal(t, StateLive, s.State())
	require.Empty(t, s.Messages())
	require.ErrorIs(t, s.Err(), errBackendDown)

	_, err := bob.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "still live"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, waitFor, tick)
}

func TestUpdateForUnknownMessageIsIgnored(t *testing.T) {
	b := newBackend(t)
	alice := b.client(t, b.addUser(t, "alice"))
	bob := b.client(t, b.addUser(t, "bob"))
	conv := b.directConversation(t, alice, bob)
	ctx := context.Background()
	require.NoError(t, alice.sync.Select(ctx, conv))

	content := "ghost"
	ghost := domain.Message{ID: uuid.New(), ConversationID: conv, Content: &content}
	for _, typ := range []realtime.EventType{realtime.EventUpdate, realtime.EventDelete} {
		var record, old any = ghost, nil
		if typ == realtime.EventDelete {
			record, old = nil, ghost
		}
		c, err := realtime.NewChange(repository.TableMessages, typ, record, old, time.Now())
		require.NoError(t, err)
		b.bus.Publish(c)
	}

	// A trailing event proves the two above were handled.
	_, err := bob.messages.SendMessage(ctx, conv, service.SendMessageInput{Content: "real"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(alice.sync.Messages()) == 1 }, waitFor, tick)
	require.Equal(t, []string{"real"}, contents(alice.sync.Messages()))

	var payload json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"userId":"not-a-uuid"}`), &payload))
	alice.sync.mu.Lock()
	gen := alice.sync.gen
	alice.sync.mu.Unlock()
	alice.sync.onBroadcast(gen, TypingEvent, payload)
	require.Empty(t, alice.sync.TypingUsers())
}
