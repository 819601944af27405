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

type MessageRepo struct {
	s *Store
}

func NewMessageRepo(s *Store) *MessageRepo {
	return &MessageRepo{s: s}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[msg.ID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.s.conversations[msg.ConversationID]; !ok {
		return repository.ErrNotFound
	}
	r.s.messages[msg.ID] = &storedMessage{msg: *msg, seq: r.s.nextSeq()}
	r.s.publish(repository.TableMessages, realtime.EventInsert, msg, nil)
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MessageWithSender, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	full := r.withSender(m.msg)
	return &full, nil
}

func (r *MessageRepo) withSender(msg domain.Message) domain.MessageWithSender {
	out := domain.MessageWithSender{Message: msg}
	if p, ok := r.s.profiles[msg.SenderID]; ok {
		out.Sender = &p
	}
	for key, read := range r.s.reads {
		if key.messageID == msg.ID {
			out.Reads = append(out.Reads, read)
		}
	}
	sort.Slice(out.Reads, func(i, j int) bool { return out.Reads[i].ReadAt.Before(out.Reads[j].ReadAt) })
	return out
}

// ordered returns the conversation's messages newest first.
func (r *MessageRepo) ordered(conversationID uuid.UUID) []*storedMessage {
	var out []*storedMessage
	for _, m := range r.s.messages {
		if m.msg.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].msg.CreatedAt.Equal(out[j].msg.CreatedAt) {
			return out[i].msg.CreatedAt.After(out[j].msg.CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (r *MessageRepo) List(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.MessageWithSender, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	all := r.ordered(conversationID)
	if offset >= len(all) {
		return []domain.MessageWithSender{}, nil
	}
	page := all[offset:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}

	messages := make([]domain.MessageWithSender, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		messages = append(messages, r.withSender(page[i].msg))
	}
	return messages, nil
}

func (r *MessageRepo) LatestByConversation(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[uuid.UUID]domain.Message)
	for _, id := range conversationIDs {
		if all := r.ordered(id); len(all) > 0 {
			out[id] = all[0].msg
		}
	}
	return out, nil
}

func (r *MessageRepo) UnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[uuid.UUID]int)
	for _, id := range conversationIDs {
		i, ok := r.s.participant(id, userID)
		if !ok {
			continue
		}
		lastRead := r.s.participants[i].LastReadAt
		for _, m := range r.s.messages {
			if m.msg.ConversationID == id && m.msg.SenderID != userID && !m.msg.IsDeleted && m.msg.CreatedAt.After(lastRead) {
				out[id]++
			}
		}
	}
	return out, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil
	}
	old := m.msg
	m.msg.Content = &content
	m.msg.IsEdited = true
	m.msg.UpdatedAt = at
	r.s.publish(repository.TableMessages, realtime.EventUpdate, m.msg, old)
	return nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil
	}
	old := m.msg
	m.msg.IsDeleted = true
	m.msg.Content = nil
	m.msg.MediaURL = nil
	m.msg.UpdatedAt = at
	r.s.publish(repository.TableMessages, realtime.EventUpdate, m.msg, old)
	return nil
}

// Remove hard-deletes a message row. Clients never do this; it exists so
// tests and moderation tooling can produce DELETE events.
func (r *MessageRepo) Remove(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil
	}
	delete(r.s.messages, id)
	for key := range r.s.reads {
		if key.messageID == id {
			delete(r.s.reads, key)
		}
	}
	r.s.publish(repository.TableMessages, realtime.EventDelete, nil, m.msg)
	return nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, read *domain.MessageRead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[read.MessageID]; !ok {
		return repository.ErrNotFound
	}
	key := readKey{messageID: read.MessageID, userID: read.UserID}
	if _, ok := r.s.reads[key]; ok {
		return repository.ErrDuplicate
	}
	r.s.reads[key] = *read
	r.s.publish(repository.TableMessageReads, realtime.EventInsert, read, nil)
	return nil
}

// ReadCount reports how many receipts exist for a message.
func (r *MessageRepo) ReadCount(messageID uuid.UUID) int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for key := range r.s.reads {
		if key.messageID == messageID {
			n++
		}
	}
	return n
}
