package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/pkg/validator"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("you are not a participant of this conversation")
	ErrNotConversationAdmin = errors.New("only a conversation admin can perform this action")
	ErrCannotDMSelf         = errors.New("cannot start a conversation with yourself")
	ErrInvalidParticipants  = errors.New("a one-on-one conversation needs exactly one other participant")
)

type ConversationService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	profileRepo repository.ProfileRepository
	identity    Identity
	log         *slog.Logger
	now         func() time.Time
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	profileRepo repository.ProfileRepository,
	identity Identity,
	logger *slog.Logger,
) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		profileRepo: profileRepo,
		identity:    identity,
		log:         logger,
		now:         time.Now,
	}
}

// GetConversations returns every conversation the signed-in user takes part
// in, most recently updated first.
func (s *ConversationService) GetConversations(ctx context.Context) ([]domain.ConversationWithDetails, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}

	convs, err := s.convRepo.ListByUser(ctx, me)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []domain.ConversationWithDetails{}, nil
	}

	details, err := s.details(ctx, me, convs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(details, func(i, j int) bool {
		return details[i].UpdatedAt.After(details[j].UpdatedAt)
	})
	return details, nil
}

func (s *ConversationService) details(ctx context.Context, me uuid.UUID, convs []domain.Conversation) ([]domain.ConversationWithDetails, error) {
	ids := make([]uuid.UUID, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}

	participants, err := s.convRepo.ListParticipants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	latest, err := s.messageRepo.LatestByConversation(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading last messages: %w", err)
	}
	unread, err := s.messageRepo.UnreadCounts(ctx, me, ids)
	if err != nil {
		return nil, fmt.Errorf("counting unread messages: %w", err)
	}

	byConv := make(map[uuid.UUID][]domain.Profile, len(convs))
	for _, p := range participants {
		byConv[p.ConversationID] = append(byConv[p.ConversationID], p.Profile)
	}

	out := make([]domain.ConversationWithDetails, len(convs))
	for i, c := range convs {
		d := domain.ConversationWithDetails{
			Conversation: c,
			Participants: byConv[c.ID],
			UnreadCount:  unread[c.ID],
		}
		if d.Participants == nil {
			d.Participants = []domain.Profile{}
		}
		if m, ok := latest[c.ID]; ok {
			d.LastMessage = &m
		}
		out[i] = d
	}
	return out, nil
}

// GetConversation returns one conversation with its details. The signed-in
// user must take part in it.
func (s *ConversationService) GetConversation(ctx context.Context, id uuid.UUID) (*domain.ConversationWithDetails, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}

	conv, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	details, err := s.details(ctx, me, []domain.Conversation{*conv})
	if err != nil {
		return nil, err
	}
	d := details[0]
	if !hasParticipant(d.Participants, me) {
		return nil, ErrNotParticipant
	}
	return &d, nil
}

func hasParticipant(profiles []domain.Profile, id uuid.UUID) bool {
	for _, p := range profiles {
		if p.ID == id {
			return true
		}
	}
	return false
}

// CreateConversation creates a conversation between the signed-in user and
// participantIDs. A one-on-one request returns the existing conversation
// with that user when there is one.
func (s *ConversationService) CreateConversation(ctx context.Context, participantIDs []uuid.UUID, isGroup bool, name string) (*domain.Conversation, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}

	others := dedupeParticipants(me, participantIDs)
	name = strings.TrimSpace(name)

	if !isGroup {
		if len(participantIDs) == 1 && participantIDs[0] == me {
			return nil, ErrCannotDMSelf
		}
		if len(others) != 1 {
			return nil, ErrInvalidParticipants
		}
		existing, err := s.convRepo.FindDirect(ctx, me, others[0])
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	} else if err := validator.ValidateGroup(name, len(others)).Err(); err != nil {
		return nil, err
	}

	for _, id := range others {
		p, err := s.profileRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrUserNotFound
		}
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:        uuid.New(),
		IsGroup:   isGroup,
		CreatedBy: &me,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name != "" {
		conv.Name = &name
	}

	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	participants := make([]domain.Participant, 0, len(others)+1)
	participants = append(participants, domain.Participant{
		ConversationID: conv.ID, UserID: me, Role: domain.RoleAdmin, JoinedAt: now, LastReadAt: now,
	})
	for _, id := range others {
		participants = append(participants, domain.Participant{
			ConversationID: conv.ID, UserID: id, Role: domain.RoleMember, JoinedAt: now, LastReadAt: now,
		})
	}

	if err := s.convRepo.AddParticipants(ctx, participants); err != nil {
		if delErr := s.convRepo.Delete(ctx, conv.ID); delErr != nil {
			s.log.Warn("removing conversation without participants", "conversation_id", conv.ID, "error", delErr)
		}
		return nil, fmt.Errorf("adding participants: %w", err)
	}

	return conv, nil
}

func dedupeParticipants(me uuid.UUID, ids []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{me: true}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] || id == uuid.Nil {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// FindOneOnOne returns the non-group conversation shared with otherID, or
// nil when there is none.
func (s *ConversationService) FindOneOnOne(ctx context.Context, otherID uuid.UUID) (*domain.Conversation, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}
	return s.convRepo.FindDirect(ctx, me, otherID)
}

func (s *ConversationService) UpdateLastRead(ctx context.Context, conversationID uuid.UUID) error {
	me, err := currentUser(s.identity)
	if err != nil {
		return err
	}
	return s.convRepo.UpdateLastRead(ctx, conversationID, me, s.now())
}

// DeleteConversation removes a conversation with its messages. Only an admin
// participant may do this.
func (s *ConversationService) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	me, err := currentUser(s.identity)
	if err != nil {
		return err
	}

	participants, err := s.convRepo.ListParticipants(ctx, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if len(participants) == 0 {
		return ErrConversationNotFound
	}

	role := domain.ParticipantRole("")
	for _, p := range participants {
		if p.UserID == me {
			role = p.Role
		}
	}
	switch role {
	case "":
		return ErrNotParticipant
	case domain.RoleAdmin:
	default:
		return ErrNotConversationAdmin
	}

	return s.convRepo.Delete(ctx, id)
}
