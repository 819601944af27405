package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/repository"
)

type AccountRepo struct {
	s *Store
}

func NewAccountRepo(s *Store) *AccountRepo {
	return &AccountRepo{s: s}
}

func (r *AccountRepo) Create(ctx context.Context, account *domain.Account, profile *domain.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := strings.ToLower(account.Email)
	if _, ok := r.s.accounts[key]; ok {
		return repository.ErrDuplicate
	}
	for _, p := range r.s.profiles {
		if p.ID == profile.ID || strings.EqualFold(p.Username, profile.Username) {
			return repository.ErrDuplicate
		}
	}

	r.s.accounts[key] = *account
	r.s.profiles[profile.ID] = *profile
	r.s.publish(repository.TableProfiles, realtime.EventInsert, profile, nil)
	return nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.accounts[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

type ProfileRepo struct {
	s *Store
}

func NewProfileRepo(s *Store) *ProfileRepo {
	return &ProfileRepo{s: s}
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *ProfileRepo) GetByUsername(ctx context.Context, username string) (*domain.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.profiles {
		if strings.EqualFold(p.Username, username) {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *ProfileRepo) Search(ctx context.Context, query string, limit int) ([]domain.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []domain.Profile
	for _, p := range r.s.profiles {
		name := ""
		if p.FullName != nil {
			name = *p.FullName
		}
		if strings.Contains(strings.ToLower(p.Username), q) || strings.Contains(strings.ToLower(name), q) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ProfileRepo) Update(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil
	}
	if update.Username != nil {
		for _, other := range r.s.profiles {
			if other.ID != id && strings.EqualFold(other.Username, *update.Username) {
				return repository.ErrDuplicate
			}
		}
	}
	old := p
	update.Apply(&p)
	p.UpdatedAt = at
	r.s.profiles[id] = p
	r.s.publish(repository.TableProfiles, realtime.EventUpdate, p, old)
	return nil
}

func (r *ProfileRepo) SetOnline(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil
	}
	old := p
	p.IsOnline = online
	p.LastSeen = lastSeen
	r.s.profiles[id] = p
	r.s.publish(repository.TableProfiles, realtime.EventUpdate, p, old)
	return nil
}

func (r *ProfileRepo) ListOnline(ctx context.Context) ([]domain.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Profile
	for _, p := range r.s.profiles {
		if p.IsOnline {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
