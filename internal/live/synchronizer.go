package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/internal/service"
)

var (
	ErrEmptyMessage         = errors.New("message has no content or media")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrUnknownMessage       = errors.New("message is not in the active conversation")
)

// TypingEvent is the broadcast event name for typing signals.
const TypingEvent = "typing"

// TypingChannel names the broadcast channel for a conversation's typing
// signals.
func TypingChannel(conversationID uuid.UUID) string {
	return "typing:" + conversationID.String()
}

type typingPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type MessageSource interface {
	GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.MessageWithSender, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.MessageWithSender, error)
	SendMessage(ctx context.Context, conversationID uuid.UUID, input service.SendMessageInput) (*domain.Message, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, content string) error
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error
	MarkAsRead(ctx context.Context, messageID uuid.UUID) error
}

type ReadMarker interface {
	UpdateLastRead(ctx context.Context, conversationID uuid.UUID) error
}

type SyncState int

const (
	StateIdle SyncState = iota
	StateLoading
	StateLive
)

func (s SyncState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	default:
		return "idle"
	}
}

type SynchronizerConfig struct {
	Messages MessageSource
	Reads    ReadMarker
	Feed     realtime.ChangeFeed
	Channels realtime.Broadcaster
	Identity service.Identity
	Logger   *slog.Logger
	// TypingTTL defaults to TypingTTL.
	TypingTTL time.Duration
}

// Synchronizer mirrors the message list of the active conversation. Every
// selection bumps a generation counter; results and events that belong to
// an older generation are dropped.
type Synchronizer struct {
	messages MessageSource
	reads    ReadMarker
	feed     realtime.ChangeFeed
	channels realtime.Broadcaster
	identity service.Identity
	log      *slog.Logger
	typing   *TypingTracker
	updates  signal

	mu        sync.Mutex
	gen       uint64
	state     SyncState
	active    uuid.UUID
	list      []domain.MessageWithSender
	pending   []realtime.Change
	err       error
	changeSub realtime.Subscription
	typingSub realtime.Subscription
}

func NewSynchronizer(cfg SynchronizerConfig) *Synchronizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		messages: cfg.Messages,
		reads:    cfg.Reads,
		feed:     cfg.Feed,
		channels: cfg.Channels,
		identity: cfg.Identity,
		log:      logger,
		updates:  newSignal(),
	}
	s.typing = NewTypingTracker(cfg.TypingTTL, s.updates.notify)
	return s
}

// Select makes conversationID active. The previous conversation's
// subscriptions are dropped before new ones are made. History is committed
// only if conversationID is still active when it arrives; events received
// meanwhile are applied after it. A failed history fetch leaves an empty
// list and is reported through Err.
func (s *Synchronizer) Select(ctx context.Context, conversationID uuid.UUID) error {
	if conversationID == uuid.Nil {
		s.Clear()
		return nil
	}

	gen := s.reset(StateLoading, conversationID)

	changeSub, err := s.feed.Subscribe(ctx, realtime.Filter{
		Table:  repository.TableMessages,
		Column: "conversation_id",
		Value:  conversationID.String(),
	}, func(c realtime.Change) { s.onChange(gen, c) })
	if err != nil {
		s.fail(gen, fmt.Errorf("subscribing to messages: %w", err))
		return err
	}

	typingSub, err := s.channels.Join(ctx, TypingChannel(conversationID), func(event string, payload json.RawMessage) {
		s.onBroadcast(gen, event, payload)
	})
	if err != nil {
		changeSub.Unsubscribe()
		s.fail(gen, fmt.Errorf("joining typing channel: %w", err))
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		changeSub.Unsubscribe()
		typingSub.Unsubscribe()
		return nil
	}
	s.changeSub, s.typingSub = changeSub, typingSub
	s.mu.Unlock()

	history, fetchErr := s.messages.GetMessages(ctx, conversationID, service.HistoryPageSize, 0)
	if fetchErr != nil {
		s.log.Error("loading messages", "conversation_id", conversationID, "error", fetchErr)
		history = []domain.MessageWithSender{}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.list = history
	s.err = fetchErr
	s.mu.Unlock()
	s.updates.notify()

	// Drain events that arrived while loading. Events keep queueing in
	// pending until the queue is seen empty, which preserves their order.
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return nil
		}
		if len(s.pending) == 0 {
			s.state = StateLive
			s.mu.Unlock()
			break
		}
		queued := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, c := range queued {
			s.apply(gen, c)
		}
	}
	s.updates.notify()

	s.stampRead(ctx, conversationID)
	return fetchErr
}

// reset tears down the current selection and starts a new generation.
func (s *Synchronizer) reset(state SyncState, active uuid.UUID) uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	changeSub, typingSub := s.changeSub, s.typingSub
	s.changeSub, s.typingSub = nil, nil
	s.state = state
	s.active = active
	s.list = nil
	s.pending = nil
	s.err = nil
	s.mu.Unlock()

	if changeSub != nil {
		changeSub.Unsubscribe()
	}
	if typingSub != nil {
		typingSub.Unsubscribe()
	}
	s.typing.Reset()
	s.updates.notify()
	return gen
}

func (s *Synchronizer) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.gen == gen {
		s.state = StateLive
		s.list = []domain.MessageWithSender{}
		s.err = err
	}
	s.mu.Unlock()
	s.updates.notify()
}

// Clear returns to idle.
func (s *Synchronizer) Clear() {
	s.reset(StateIdle, uuid.Nil)
}

func (s *Synchronizer) onChange(gen uint64, c realtime.Change) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.state == StateLoading {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.apply(gen, c)
}

func (s *Synchronizer) apply(gen uint64, c realtime.Change) {
	rawID, err := c.RowID()
	if err != nil {
		s.log.Warn("ignoring message change", "type", c.Type, "error", err)
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		s.log.Warn("ignoring message change", "type", c.Type, "error", err)
		return
	}

	switch c.Type {
	case realtime.EventInsert:
		s.applyInsert(gen, id)
	case realtime.EventUpdate:
		s.applyUpdate(gen, id, c.Record)
	case realtime.EventDelete:
		s.applyDelete(gen, id)
	}
}

// applyInsert fetches the message with its sender and appends it. A message
// already in the list is replaced in place.
func (s *Synchronizer) applyInsert(gen uint64, id uuid.UUID) {
	ctx, cancel := handlerContext()
	defer cancel()

	msg, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		s.log.Warn("fetching inserted message", "message_id", id, "error", err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if i := s.indexOf(id); i >= 0 {
		s.list[i] = *msg
	} else {
		s.list = append(s.list, *msg)
	}
	active, live := s.active, s.state == StateLive
	s.mu.Unlock()
	s.updates.notify()

	if live {
		s.stampRead(ctx, active)
	}
}

// applyUpdate merges the changed row into the listed message. Sender and
// receipts are kept.
func (s *Synchronizer) applyUpdate(gen uint64, id uuid.UUID, record json.RawMessage) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	merged := s.list[i].Message
	if err := json.Unmarshal(record, &merged); err != nil {
		s.mu.Unlock()
		s.log.Warn("merging message update", "message_id", id, "error", err)
		return
	}
	s.list[i].Message = merged
	s.mu.Unlock()
	s.updates.notify()
}

func (s *Synchronizer) applyDelete(gen uint64, id uuid.UUID) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.list = append(s.list[:i], s.list[i+1:]...)
	s.mu.Unlock()
	s.updates.notify()
}

// indexOf must be called with s.mu held.
func (s *Synchronizer) indexOf(id uuid.UUID) int {
	for i := range s.list {
		if s.list[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) stampRead(ctx context.Context, conversationID uuid.UUID) {
	if err := s.reads.UpdateLastRead(ctx, conversationID); err != nil {
		s.log.Warn("updating last read", "conversation_id", conversationID, "error", err)
	}
}

func (s *Synchronizer) onBroadcast(gen uint64, event string, payload json.RawMessage) {
	if event != TypingEvent {
		return
	}
	var p typingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == uuid.Nil {
		s.log.Debug("ignoring typing signal", "payload", string(payload))
		return
	}
	if me, ok := s.identity.UserID(); ok && me == p.UserID {
		return
	}

	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if current {
		s.typing.Signal(p.UserID)
	}
}

func (s *Synchronizer) activeConversation() (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == uuid.Nil {
		return uuid.Nil, ErrNoActiveConversation
	}
	return s.active, nil
}

// SendTyping tells the other participants that the user is typing.
func (s *Synchronizer) SendTyping(ctx context.Context) error {
	active, err := s.activeConversation()
	if err != nil {
		return err
	}
	me, ok := s.identity.UserID()
	if !ok {
		return service.ErrNotAuthenticated
	}
	return s.channels.Send(ctx, TypingChannel(active), TypingEvent, typingPayload{UserID: me})
}

// SendMessage writes a message to the active conversation. Its type follows
// the media reference's extension. The message shows up in Messages once
// its insert event arrives.
func (s *Synchronizer) SendMessage(ctx context.Context, content, mediaURL string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	mediaURL = strings.TrimSpace(mediaURL)
	if content == "" && mediaURL == "" {
		return nil, ErrEmptyMessage
	}
	active, err := s.activeConversation()
	if err != nil {
		return nil, err
	}

	input := service.SendMessageInput{Content: content, Type: domain.MessageText, MediaURL: mediaURL}
	if mediaURL != "" {
		input.Type = domain.MessageTypeForMedia(mediaURL)
	}
	return s.messages.SendMessage(ctx, active, input)
}

func (s *Synchronizer) known(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == uuid.Nil {
		return ErrNoActiveConversation
	}
	if s.indexOf(id) < 0 {
		return ErrUnknownMessage
	}
	return nil
}

func (s *Synchronizer) EditMessage(ctx context.Context, id uuid.UUID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if err := s.known(id); err != nil {
		return err
	}
	return s.messages.EditMessage(ctx, id, content)
}

func (s *Synchronizer) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	if err := s.known(id); err != nil {
		return err
	}
	return s.messages.DeleteMessage(ctx, id)
}

// MarkRead records a read receipt. Repeating it is harmless.
func (s *Synchronizer) MarkRead(ctx context.Context, id uuid.UUID) error {
	if err := s.known(id); err != nil {
		return err
	}
	return s.messages.MarkAsRead(ctx, id)
}

func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) Active() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != uuid.Nil
}

func (s *Synchronizer) Loading() bool {
	return s.State() == StateLoading
}

func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Messages returns a copy of the list in chronological order.
func (s *Synchronizer) Messages() []domain.MessageWithSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MessageWithSender(nil), s.list...)
}

func (s *Synchronizer) TypingUsers() []uuid.UUID {
	return s.typing.Users()
}

// Updates fires after any change to the state, list or typing set.
func (s *Synchronizer) Updates() <-chan struct{} {
	return s.updates
}
