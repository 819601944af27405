package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/repository"
)

type ConversationRepo struct {
	s *Store
}

func NewConversationRepo(s *Store) *ConversationRepo {
	return &ConversationRepo{s: s}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.conversations[conv.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.conversations[conv.ID] = *conv
	r.s.publish(repository.TableConversations, realtime.EventInsert, conv, nil)
	return nil
}

func (r *ConversationRepo) AddParticipants(ctx context.Context, participants []domain.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// All or nothing, like a single multi-row INSERT.
	seen := make(map[uuid.UUID]bool, len(participants))
	for _, p := range participants {
		if _, ok := r.s.conversations[p.ConversationID]; !ok {
			return repository.ErrNotFound
		}
		if _, exists := r.s.participant(p.ConversationID, p.UserID); exists || seen[p.UserID] {
			return repository.ErrDuplicate
		}
		seen[p.UserID] = true
	}
	for _, p := range participants {
		r.s.participants = append(r.s.participants, p)
		r.s.publish(repository.TableParticipants, realtime.EventInsert, p, nil)
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.listByUser(userID), nil
}

func (r *ConversationRepo) listByUser(userID uuid.UUID) []domain.Conversation {
	var out []domain.Conversation
	for _, p := range r.s.participants {
		if p.UserID != userID {
			continue
		}
		if c, ok := r.s.conversations[p.ConversationID]; ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationIDs []uuid.UUID) ([]domain.ParticipantProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[uuid.UUID]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		wanted[id] = true
	}

	var out []domain.ParticipantProfile
	for _, p := range r.s.participants {
		if !wanted[p.ConversationID] {
			continue
		}
		profile, ok := r.s.profiles[p.UserID]
		if !ok {
			continue
		}
		out = append(out, domain.ParticipantProfile{Participant: p, Profile: profile})
	}
	return out, nil
}

func (r *ConversationRepo) FindDirect(ctx context.Context, userID, otherUserID uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.listByUser(userID) {
		if c.IsGroup {
			continue
		}
		if _, ok := r.s.participant(c.ID, otherUserID); ok {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *ConversationRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversations[id]
	if !ok {
		return nil
	}
	old := c
	c.UpdatedAt = at
	r.s.conversations[id] = c
	r.s.publish(repository.TableConversations, realtime.EventUpdate, c, old)
	return nil
}

func (r *ConversationRepo) UpdateLastRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, ok := r.s.participant(conversationID, userID)
	if !ok {
		return nil
	}
	old := r.s.participants[i]
	r.s.participants[i].LastReadAt = at
	r.s.publish(repository.TableParticipants, realtime.EventUpdate, r.s.participants[i], old)
	return nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversations[id]
	if !ok {
		return nil
	}

	// Cascade the way the foreign keys do.
	for mid, m := range r.s.messages {
		if m.msg.ConversationID != id {
			continue
		}
		for key := range r.s.reads {
			if key.messageID == mid {
				delete(r.s.reads, key)
			}
		}
		delete(r.s.messages, mid)
		r.s.publish(repository.TableMessages, realtime.EventDelete, nil, m.msg)
	}
	kept := r.s.participants[:0]
	for _, p := range r.s.participants {
		if p.ConversationID == id {
			r.s.publish(repository.TableParticipants, realtime.EventDelete, nil, p)
			continue
		}
		kept = append(kept, p)
	}
	r.s.participants = kept

	delete(r.s.conversations, id)
	r.s.publish(repository.TableConversations, realtime.EventDelete, nil, c)
	return nil
}
