package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/repository"
)

type CallRepo struct {
	s *Store
}

func NewCallRepo(s *Store) *CallRepo {
	return &CallRepo{s: s}
}

func (r *CallRepo) Create(ctx context.Context, call *domain.CallLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.calls = append(r.s.calls, *call)
	r.s.publish(repository.TableCalls, realtime.EventInsert, call, nil)
	return nil
}

func (r *CallRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CallLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.calls {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *CallRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.CallLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.CallLog
	for i := len(r.s.calls) - 1; i >= 0; i-- {
		if r.s.calls[i].UserID == userID {
			out = append(out, r.s.calls[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type SignalRepo struct {
	s *Store
}

func NewSignalRepo(s *Store) *SignalRepo {
	return &SignalRepo{s: s}
}

func (r *SignalRepo) Create(ctx context.Context, signal *domain.Signal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.profiles[signal.UserID]; !ok {
		return repository.ErrNotFound
	}
	stored := *signal
	stored.Author = nil
	r.s.signals = append(r.s.signals, stored)
	r.s.publish(repository.TableSignals, realtime.EventInsert, stored, nil)
	return nil
}

func (r *SignalRepo) withAuthor(sig domain.Signal) domain.Signal {
	if p, ok := r.s.profiles[sig.UserID]; ok {
		sig.Author = &domain.SignalAuthor{Username: p.Username, FullName: p.FullName, AvatarURL: p.AvatarURL}
	}
	return sig
}

func (r *SignalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, sig := range r.s.signals {
		if sig.ID == id {
			out := r.withAuthor(sig)
			return &out, nil
		}
	}
	return nil, nil
}

func (r *SignalRepo) newestFirst(keep func(domain.Signal) bool) []domain.Signal {
	var out []domain.Signal
	for i := len(r.s.signals) - 1; i >= 0; i-- {
		if keep(r.s.signals[i]) {
			out = append(out, r.withAuthor(r.s.signals[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *SignalRepo) ListRecent(ctx context.Context, limit int) ([]domain.Signal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := r.newestFirst(func(domain.Signal) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SignalRepo) ListMediaByUser(ctx context.Context, userID uuid.UUID) ([]domain.Signal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.newestFirst(func(s domain.Signal) bool {
		return s.UserID == userID && s.MediaURL != nil
	}), nil
}
