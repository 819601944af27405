package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/repository"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMessageOwner = errors.New("only the message sender can perform this action")
)

// HistoryPageSize is the default number of messages fetched per page.
const HistoryPageSize = 50

type MessageService struct {
	messageRepo repository.MessageRepository
	convRepo    repository.ConversationRepository
	identity    Identity
	log         *slog.Logger
	now         func() time.Time
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	identity Identity,
	logger *slog.Logger,
) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		identity:    identity,
		log:         logger,
		now:         time.Now,
	}
}

// GetMessages returns one page of history in chronological order. offset
// counts back from the newest message.
func (s *MessageService) GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.MessageWithSender, error) {
	if limit <= 0 || limit > 100 {
		limit = HistoryPageSize
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := s.messageRepo.List(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.MessageWithSender{}
	}
	return messages, nil
}

// GetMessage returns a message with its sender and receipts.
func (s *MessageService) GetMessage(ctx context.Context, id uuid.UUID) (*domain.MessageWithSender, error) {
	msg, err := s.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

type SendMessageInput struct {
	Content  string             `json:"content"`
	Type     domain.MessageType `json:"message_type"`
	MediaURL string             `json:"media_url,omitempty"`
	ReplyTo  *uuid.UUID         `json:"reply_to,omitempty"`
}

// SendMessage stores a message and bumps the conversation's updated_at. A
// failure to bump is logged; the message is already stored.
func (s *MessageService) SendMessage(ctx context.Context, conversationID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}

	if input.Type == "" {
		input.Type = domain.MessageText
	}

	now := s.now()
	content := input.Content
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       me,
		Content:        &content,
		Type:           input.Type,
		ReplyTo:        input.ReplyTo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.MediaURL != "" {
		mediaURL := input.MediaURL
		msg.MediaURL = &mediaURL
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	if err := s.convRepo.Touch(ctx, conversationID, now); err != nil {
		s.log.Warn("bumping conversation updated_at", "conversation_id", conversationID, "error", err)
	}

	return msg, nil
}

func (s *MessageService) EditMessage(ctx context.Context, messageID uuid.UUID, content string) error {
	if _, err := s.ownMessage(ctx, messageID); err != nil {
		return err
	}
	if err := s.messageRepo.UpdateContent(ctx, messageID, content, s.now()); err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return nil
}

// DeleteMessage soft-deletes a message, clearing its content and media.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	if _, err := s.ownMessage(ctx, messageID); err != nil {
		return err
	}
	if err := s.messageRepo.SoftDelete(ctx, messageID, s.now()); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

func (s *MessageService) ownMessage(ctx context.Context, messageID uuid.UUID) (*domain.MessageWithSender, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != me {
		return nil, ErrNotMessageOwner
	}
	return msg, nil
}

// MarkAsRead records a read receipt for the signed-in user. Marking a
// message twice is not an error.
func (s *MessageService) MarkAsRead(ctx context.Context, messageID uuid.UUID) error {
	me, err := currentUser(s.identity)
	if err != nil {
		return err
	}

	read := &domain.MessageRead{MessageID: messageID, UserID: me, ReadAt: s.now()}
	if err := s.messageRepo.MarkRead(ctx, read); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("marking message read: %w", err)
	}
	return nil
}
