// Package memory is an in-process row store that mirrors the Postgres schema
// and publishes the same change events the database triggers emit.
package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/realtime"
)

// Publisher receives every committed change.
type Publisher interface {
	Publish(c realtime.Change)
}

type readKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
}

type storedMessage struct {
	msg domain.Message
	seq uint64
}

type Store struct {
	pub Publisher
	log *slog.Logger
	now func() time.Time

	mu            sync.RWMutex
	seq           uint64
	accounts      map[string]domain.Account // by lower-case email
	profiles      map[uuid.UUID]domain.Profile
	conversations map[uuid.UUID]domain.Conversation
	participants  []domain.Participant
	messages      map[uuid.UUID]*storedMessage
	reads         map[readKey]domain.MessageRead
	calls         []domain.CallLog
	signals       []domain.Signal
}

// NewStore creates an empty store. pub may be nil.
func NewStore(pub Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pub:           pub,
		log:           logger,
		now:           time.Now,
		accounts:      make(map[string]domain.Account),
		profiles:      make(map[uuid.UUID]domain.Profile),
		conversations: make(map[uuid.UUID]domain.Conversation),
		messages:      make(map[uuid.UUID]*storedMessage),
		reads:         make(map[readKey]domain.MessageRead),
	}
}

// publish must be called with s.mu held so events leave in commit order.
func (s *Store) publish(table string, typ realtime.EventType, record, old any) {
	if s.pub == nil {
		return
	}
	c, err := realtime.NewChange(table, typ, record, old, s.now())
	if err != nil {
		s.log.Error("memory: encoding change", "table", table, "error", err)
		return
	}
	s.pub.Publish(c)
}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) participant(conversationID, userID uuid.UUID) (int, bool) {
	for i, p := range s.participants {
		if p.ConversationID == conversationID && p.UserID == userID {
			return i, true
		}
	}
	return -1, false
}
