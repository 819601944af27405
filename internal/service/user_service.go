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

var ErrUserNotFound = errors.New("user not found")

// SearchLimit caps the number of profiles Search returns.
const SearchLimit = 20

type UserService struct {
	profiles repository.ProfileRepository
	identity Identity
	now      func() time.Time
}

func NewUserService(profiles repository.ProfileRepository, identity Identity) *UserService {
	return &UserService{profiles: profiles, identity: identity, now: time.Now}
}

// Search matches query case-insensitively against username and full name.
func (s *UserService) Search(ctx context.Context, query string) ([]domain.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Profile{}, nil
	}
	profiles, err := s.profiles.Search(ctx, query, SearchLimit)
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	return profiles, nil
}

func (s *UserService) GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUserNotFound
	}
	return p, nil
}

func (s *UserService) ListOnline(ctx context.Context) ([]domain.Profile, error) {
	profiles, err := s.profiles.ListOnline(ctx)
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	return profiles, nil
}

// UpdateProfile applies update to the profile of id, which must be the
// signed-in user.
func (s *UserService) UpdateProfile(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate) (*domain.Profile, error) {
	me, err := currentUser(s.identity)
	if err != nil {
		return nil, err
	}
	if me != id {
		return nil, ErrNotAuthenticated
	}
	if update.IsEmpty() {
		return s.GetProfile(ctx, id)
	}
	if err := validator.ValidateProfileUpdate(update.Username, update.FullName).Err(); err != nil {
		return nil, err
	}

	if err := s.profiles.Update(ctx, id, update, s.now()); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return s.GetProfile(ctx, id)
}
