package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/pkg/validator"
)

var (
	ErrSignalNotFound  = errors.New("signal not found")
	ErrInvalidCallType = errors.New("call type must be incoming, outgoing, or missed")
)

// FeedPageSize is the number of signals GetSignals returns.
const FeedPageSize = 50

type SignalService struct {
	signalRepo repository.SignalRepository
	identity   Identity
	now        func() time.Time
}

func NewSignalService(signalRepo repository.SignalRepository, identity Identity) *SignalService {
	return &SignalService{signalRepo: signalRepo, identity: identity, now: time.Now}
}

// GetSignals returns the newest signals with their authors.
func (s *SignalService) GetSignals(ctx context.Context) ([]domain.Signal, error) {
	signals, err := s.signalRepo.ListRecent(ctx, FeedPageSize)
	if err != nil {
		return nil, err
	}
	if signals == nil {
		signals = []domain.Signal{}
	}
	return signals, nil
}

func (s *SignalService) GetSignal(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	sig, err := s.signalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, ErrSignalNotFound
	}
	return sig, nil
}

func (s *SignalService) BroadcastSignal(ctx context.Context, content string, category domain.SignalCategory, mediaURL string) (*domain.Signal, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if err := validator.ValidateSignal(content, string(category)).Err(); err != nil {
		return nil, err
	}

	sig := &domain.Signal{
		ID:        uuid.New(),
		UserID:    me,
		Content:   content,
		Type:      category,
		CreatedAt: s.now(),
	}
	if mediaURL != "" {
		sig.MediaURL = &mediaURL
	}

	if err := s.signalRepo.Create(ctx, sig); err != nil {
		return nil, fmt.Errorf("creating signal: %w", err)
	}
	return sig, nil
}

// GetUserSignals returns the signed-in user's signals that carry media.
func (s *SignalService) GetUserSignals(ctx context.Context) ([]domain.Signal, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}
	signals, err := s.signalRepo.ListMediaByUser(ctx, me)
	if err != nil {
		return nil, err
	}
	if signals == nil {
		signals = []domain.Signal{}
	}
	return signals, nil
}

type CallService struct {
	callRepo repository.CallRepository
	identity Identity
	now      func() time.Time
}

func NewCallService(callRepo repository.CallRepository, identity Identity) *CallService {
	return &CallService{callRepo: callRepo, identity: identity, now: time.Now}
}

// GetCalls returns the signed-in user's call log, newest first.
func (s *CallService) GetCalls(ctx context.Context) ([]domain.CallLog, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}
	calls, err := s.callRepo.ListByUser(ctx, me)
	if err != nil {
		return nil, err
	}
	if calls == nil {
		calls = []domain.CallLog{}
	}
	return calls, nil
}

func (s *CallService) GetCall(ctx context.Context, id uuid.UUID) (*domain.CallLog, error) {
	return s.callRepo.GetByID(ctx, id)
}

func (s *CallService) AddCall(ctx context.Context, callerName string, callType domain.CallType, receiverID *uuid.UUID, avatarURL string) (*domain.CallLog, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}
	if !callType.Valid() {
		return nil, ErrInvalidCallType
	}

	call := &domain.CallLog{
		ID:         uuid.New(),
		UserID:     me,
		ReceiverID: receiverID,
		CallerName: strings.TrimSpace(callerName),
		Type:       callType,
		CreatedAt:  s.now(),
	}
	if avatarURL != "" {
		call.CallerAvatarURL = &avatarURL
	}

	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("logging call: %w", err)
	}
	return call, nil
}
