package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/auth"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/repository/memory"
	"github.com/vedran77/nebula/pkg/validator"
)

// clock hands out strictly increasing times.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	store    *memory.Store
	accounts *memory.AccountRepo
	profiles *memory.ProfileRepo
	convs    *memory.ConversationRepo
	messages *memory.MessageRepo
	calls    *memory.CallRepo
	signals  *memory.SignalRepo
	clock    *clock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore(nil, nil)
	return &testEnv{
		store:    store,
		accounts: memory.NewAccountRepo(store),
		profiles: memory.NewProfileRepo(store),
		convs:    memory.NewConversationRepo(store),
		messages: memory.NewMessageRepo(store),
		calls:    memory.NewCallRepo(store),
		signals:  memory.NewSignalRepo(store),
		clock:    newClock(),
	}
}

func (e *testEnv) authService(store TokenStore) *AuthService {
	return NewAuthService(e.accounts, e.profiles, auth.NewTokenIssuer("test-secret", time.Hour), store, nil)
}

// addUser creates a profile directly and returns its id.
func (e *testEnv) addUser(t *testing.T, username string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := e.clock.Now()
	err := e.accounts.Create(context.Background(),
		&domain.Account{ID: id, Email: username + "@example.com", CreatedAt: now},
		&domain.Profile{ID: id, Username: username, CreatedAt: now, UpdatedAt: now, LastSeen: now},
	)
	require.NoError(t, err)
	return id
}

func (e *testEnv) conversationService(me uuid.UUID) *ConversationService {
	s := NewConversationService(e.convs, e.messages, e.profiles, StaticIdentity(me), nil)
	s.now = e.clock.Now
	return s
}

func (e *testEnv) messageService(me uuid.UUID) *MessageService {
	s := NewMessageService(e.messages, e.convs, StaticIdentity(me), nil)
	s.now = e.clock.Now
	return s
}

func TestSignUpAndSignIn(t *testing.T) {
	env := newTestEnv(t)
	svc := env.authService(nil)
	ctx := context.Background()

	var events []AuthEvent
	svc.OnAuthStateChange(func(e AuthEvent, _ *auth.Session) { events = append(events, e) })

	sess, err := svc.SignUp(ctx, "Nova@Example.com", "Stardust42", SignUpInput{Username: "nova", FullName: "Nova Prime"})
	require.NoError(t, err)

	id, ok := svc.UserID()
	require.True(t, ok)
	require.Equal(t, sess.UserID, id)

	profile, err := env.profiles.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "nova", profile.Username)
	require.Equal(t, "Nova Prime", *profile.FullName)

	require.NoError(t, svc.SignOut(ctx))
	_, ok = svc.UserID()
	require.False(t, ok)

	_, err = svc.SignIn(ctx, "nova@example.com", "wrong-Password1")
	require.ErrorIs(t, err, ErrInvalidCreds)

	again, err := svc.SignIn(ctx, "nova@example.com", "Stardust42")
	require.NoError(t, err)
	require.Equal(t, id, again.UserID)

	require.Equal(t, []AuthEvent{EventSignedIn, EventSignedOut, EventSignedIn}, events)
}

func TestSignUpRejectsTakenAndInvalid(t *testing.T) {
	env := newTestEnv(t)
	svc := env.authService(nil)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "a@example.com", "Stardust42", SignUpInput{Username: "ana"})
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, "A@example.com", "Stardust42", SignUpInput{Username: "other"})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.SignUp(ctx, "b@example.com", "Stardust42", SignUpInput{Username: "ANA"})
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.SignUp(ctx, "c@example.com", "weak", SignUpInput{Username: "cee"})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Contains(t, verrs, "password")
}

func TestSignOutWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	require.ErrorIs(t, env.authService(nil).SignOut(context.Background()), ErrNotAuthenticated)
}

func TestSessionRestoredFromFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	first := env.authService(NewFileTokenStore(path))
	sess, err := first.SignUp(ctx, "file@example.com", "Stardust42", SignUpInput{Username: "filer"})
	require.NoError(t, err)

	second := env.authService(NewFileTokenStore(path))
	_, ok := second.UserID()
	require.False(t, ok)

	restored, err := second.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, restored)
	require.Equal(t, sess.UserID, restored.UserID)

	id, ok := second.UserID()
	require.True(t, ok)
	require.Equal(t, sess.UserID, id)

	require.NoError(t, second.SignOut(ctx))
	third := env.authService(NewFileTokenStore(path))
	none, err := third.CurrentSession(ctx)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "orion")
	env.addUser(t, "Orbit")
	env.addUser(t, "vega")

	svc := NewUserService(env.profiles, nil)
	found, err := svc.Search(context.Background(), "OR")
	require.NoError(t, err)
	require.Len(t, found, 2)

	empty, err := svc.Search(context.Background(), "   ")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	me := env.addUser(t, "lyra")
	env.addUser(t, "taken")
	svc := NewUserService(env.profiles, StaticIdentity(me))
	ctx := context.Background()

	bio := "navigator"
	p, err := svc.UpdateProfile(ctx, me, domain.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	require.Equal(t, "navigator", *p.Bio)

	name := "taken"
	_, err = svc.UpdateProfile(ctx, me, domain.ProfileUpdate{Username: &name})
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.UpdateProfile(ctx, uuid.New(), domain.ProfileUpdate{Bio: &bio})
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestPresence(t *testing.T) {
	env := newTestEnv(t)
	me := env.addUser(t, "sirius")
	svc := NewPresenceService(env.profiles, StaticIdentity(me))
	ctx := context.Background()

	require.NoError(t, svc.UpdateOnlineStatus(ctx, true))
	online, err := NewUserService(env.profiles, nil).ListOnline(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1)

	require.NoError(t, svc.UpdateOnlineStatus(ctx, false))
	p, err := env.profiles.GetByID(ctx, me)
	require.NoError(t, err)
	require.False(t, p.IsOnline)

	require.ErrorIs(t, NewPresenceService(env.profiles, nil).UpdateOnlineStatus(ctx, true), ErrNotAuthenticated)
}

func TestCreateConversationReusesDirect(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	ctx := context.Background()

	first, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)

	second, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	fromOther, err := env.conversationService(b).CreateConversation(ctx, []uuid.UUID{a}, false, "")
	require.NoError(t, err)
	require.Equal(t, first.ID, fromOther.ID)

	list, err := env.conversationService(a).GetConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Participants, 2)
}

func TestCreateConversationRejects(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	c := env.addUser(t, "gamma")
	svc := env.conversationService(a)
	ctx := context.Background()

	_, err := svc.CreateConversation(ctx, []uuid.UUID{a}, false, "")
	require.ErrorIs(t, err, ErrCannotDMSelf)

	_, err = svc.CreateConversation(ctx, []uuid.UUID{b, c}, false, "")
	require.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = svc.CreateConversation(ctx, []uuid.UUID{uuid.New()}, false, "")
	require.ErrorIs(t, err, ErrUserNotFound)

	group, err := svc.CreateConversation(ctx, []uuid.UUID{b, c}, true, "Bridge crew")
	require.NoError(t, err)
	require.True(t, group.IsGroup)

	_, err = NewConversationService(env.convs, env.messages, env.profiles, nil, nil).
		CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestGetConversationsDetails(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	c := env.addUser(t, "gamma")
	ctx := context.Background()

	direct, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)
	group, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b, c}, true, "Crew")
	require.NoError(t, err)

	_, err = env.messageService(b).SendMessage(ctx, direct.ID, SendMessageInput{Content: "one"})
	require.NoError(t, err)
	_, err = env.messageService(b).SendMessage(ctx, direct.ID, SendMessageInput{Content: "two"})
	require.NoError(t, err)
	_, err = env.messageService(a).SendMessage(ctx, direct.ID, SendMessageInput{Content: "mine"})
	require.NoError(t, err)

	list, err := env.conversationService(a).GetConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.Equal(t, direct.ID, list[0].ID, "touched conversation sorts first")
	require.Equal(t, 2, list[0].UnreadCount)
	require.Equal(t, "mine", *list[0].LastMessage.Content)
	require.Equal(t, "beta", list[0].Title(a))

	require.Equal(t, group.ID, list[1].ID)
	require.Nil(t, list[1].LastMessage)
	require.Equal(t, "Crew", list[1].Title(a))

	require.NoError(t, env.conversationService(a).UpdateLastRead(ctx, direct.ID))
	list, err = env.conversationService(a).GetConversations(ctx)
	require.NoError(t, err)
	require.Zero(t, list[0].UnreadCount)
}

func TestDeleteConversationRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	ctx := context.Background()

	conv, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)

	require.ErrorIs(t, env.conversationService(b).DeleteConversation(ctx, conv.ID), ErrNotConversationAdmin)
	require.NoError(t, env.conversationService(a).DeleteConversation(ctx, conv.ID))

	_, err = env.conversationService(a).GetConversation(ctx, conv.ID)
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendMessageTouchesConversation(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	ctx := context.Background()

	conv, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)

	msg, err := env.messageService(a).SendMessage(ctx, conv.ID, SendMessageInput{Content: "hello"})
	require.NoError(t, err)
	require.Equal(t, domain.MessageText, msg.Type)

	stored, err := env.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.True(t, stored.UpdatedAt.After(conv.UpdatedAt))
	require.True(t, !stored.UpdatedAt.Before(msg.CreatedAt))
}

func TestMessageHistoryPaging(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	ctx := context.Background()

	conv, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)

	svc := env.messageService(a)
	for i := 0; i < 60; i++ {
		_, err := svc.SendMessage(ctx, conv.ID, SendMessageInput{Content: time.Duration(i).String()})
		require.NoError(t, err)
	}

	page, err := svc.GetMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page, HistoryPageSize)
	require.Equal(t, "10ns", *page[0].Content)
	require.Equal(t, "59ns", *page[len(page)-1].Content)
	require.Equal(t, "alpha", page[0].Sender.Username)

	older, err := svc.GetMessages(ctx, conv.ID, 50, 50)
	require.NoError(t, err)
	require.Len(t, older, 10)
	require.Equal(t, "0s", *older[0].Content)
}

func TestEditAndDeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	ctx := context.Background()

	conv, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)
	msg, err := env.messageService(a).SendMessage(ctx, conv.ID, SendMessageInput{
		Content: "look", Type: domain.MessageImage, MediaURL: "https://cdn/x.png",
	})
	require.NoError(t, err)

	require.ErrorIs(t, env.messageService(b).EditMessage(ctx, msg.ID, "hijack"), ErrNotMessageOwner)
	require.NoError(t, env.messageService(a).EditMessage(ctx, msg.ID, "look here"))

	got, err := env.messageService(a).GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, got.IsEdited)
	require.Equal(t, "look here", *got.Content)

	require.NoError(t, env.messageService(a).DeleteMessage(ctx, msg.ID))
	got, err = env.messageService(a).GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, got.IsDeleted)
	require.Nil(t, got.Content)
	require.Nil(t, got.MediaURL)
	require.Equal(t, msg.SenderID, got.SenderID)
	require.Equal(t, msg.CreatedAt, got.CreatedAt)
	require.Equal(t, domain.MessageImage, got.Type)

	_, err = env.messageService(a).GetMessage(ctx, uuid.New())
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkAsReadTwice(t *testing.T) {
	env := newTestEnv(t)
	a := env.addUser(t, "alpha")
	b := env.addUser(t, "beta")
	ctx := context.Background()

	conv, err := env.conversationService(a).CreateConversation(ctx, []uuid.UUID{b}, false, "")
	require.NoError(t, err)
	msg, err := env.messageService(a).SendMessage(ctx, conv.ID, SendMessageInput{Content: "ping"})
	require.NoError(t, err)

	reader := env.messageService(b)
	require.NoError(t, reader.MarkAsRead(ctx, msg.ID))
	require.NoError(t, reader.MarkAsRead(ctx, msg.ID))
	require.Equal(t, 1, env.messages.ReadCount(msg.ID))

	got, err := reader.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Reads, 1)
	require.Equal(t, b, got.Reads[0].UserID)
}

func TestSignals(t *testing.T) {
	env := newTestEnv(t)
	me := env.addUser(t, "scout")
	svc := NewSignalService(env.signals, StaticIdentity(me))
	svc.now = env.clock.Now
	ctx := context.Background()

	_, err := svc.BroadcastSignal(ctx, "anomaly at sector 7", domain.SignalExploration, "")
	require.NoError(t, err)
	withMedia, err := svc.BroadcastSignal(ctx, "photo", domain.SignalIntel, "https://cdn/p.jpg")
	require.NoError(t, err)

	_, err = svc.BroadcastSignal(ctx, "bad", domain.SignalCategory("gossip"), "")
	require.Error(t, err)

	feed, err := svc.GetSignals(ctx)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	require.Equal(t, withMedia.ID, feed[0].ID)
	require.Equal(t, "scout", feed[0].Author.Username)

	gallery, err := svc.GetUserSignals(ctx)
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	require.Equal(t, withMedia.ID, gallery[0].ID)
}

func TestCalls(t *testing.T) {
	env := newTestEnv(t)
	me := env.addUser(t, "pilot")
	other := env.addUser(t, "tower")
	svc := NewCallService(env.calls, StaticIdentity(me))
	svc.now = env.clock.Now
	ctx := context.Background()

	_, err := svc.AddCall(ctx, "Tower", domain.CallOutgoing, &other, "")
	require.NoError(t, err)
	last, err := svc.AddCall(ctx, "Tower", domain.CallMissed, &other, "https://cdn/a.png")
	require.NoError(t, err)

	_, err = svc.AddCall(ctx, "Tower", domain.CallType("dropped"), &other, "")
	require.ErrorIs(t, err, ErrInvalidCallType)

	calls, err := svc.GetCalls(ctx)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	require.Equal(t, last.ID, calls[0].ID)

	theirs, err := NewCallService(env.calls, StaticIdentity(other)).GetCalls(ctx)
	require.NoError(t, err)
	require.Empty(t, theirs)
}
