package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
)

var (
	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound is returned when a write references a row that does not exist.
	ErrNotFound = errors.New("referenced row not found")
)

// Table names as seen by change subscriptions.
const (
	TableProfiles      = "profiles"
	TableConversations = "conversations"
	TableParticipants  = "conversation_participants"
	TableMessages      = "messages"
	TableMessageReads  = "message_reads"
	TableCalls         = "calls"
	TableSignals       = "signals"
)

// Lookups return (nil, nil) when the row does not exist.

type AccountRepository interface {
	// Create stores the account and its profile together.
	Create(ctx context.Context, account *domain.Account, profile *domain.Profile) error
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
}

type ProfileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
	GetByUsername(ctx context.Context, username string) (*domain.Profile, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Profile, error)
	Update(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate, at time.Time) error
	SetOnline(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error
	ListOnline(ctx context.Context) ([]domain.Profile, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	AddParticipants(ctx context.Context, participants []domain.Participant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	ListParticipants(ctx context.Context, conversationIDs []uuid.UUID) ([]domain.ParticipantProfile, error)
	// FindDirect returns the first non-group conversation both users take part in.
	FindDirect(ctx context.Context, userID, otherUserID uuid.UUID) (*domain.Conversation, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateLastRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MessageWithSender, error)
	// List returns one page in chronological order. The page is taken
	// newest-first starting at offset.
	List(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.MessageWithSender, error)
	LatestByConversation(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error)
	// UnreadCounts counts messages newer than userID's last read marker that
	// were sent by someone else and are not deleted.
	UnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkRead returns ErrDuplicate if the receipt already exists.
	MarkRead(ctx context.Context, read *domain.MessageRead) error
}

type CallRepository interface {
	Create(ctx context.Context, call *domain.CallLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.CallLog, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.CallLog, error)
}

type SignalRepository interface {
	Create(ctx context.Context, signal *domain.Signal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Signal, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Signal, error)
	ListMediaByUser(ctx context.Context, userID uuid.UUID) ([]domain.Signal, error)
}
