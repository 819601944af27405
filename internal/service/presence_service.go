package service

import (
	"context"
	"time"

	"github.com/vedran77/nebula/internal/repository"
)

type PresenceService struct {
	profiles repository.ProfileRepository
	identity Identity
	now      func() time.Time
}

func NewPresenceService(profiles repository.ProfileRepository, identity Identity) *PresenceService {
	return &PresenceService{profiles: profiles, identity: identity, now: time.Now}
}

// UpdateOnlineStatus records the signed-in user's presence and stamps
// last_seen. Calls are not coalesced; the last write wins.
func (s *PresenceService) UpdateOnlineStatus(ctx context.Context, online bool) error {
	me, err := currentUser(s.identity)
	if err != nil {
		return err
	}
	return s.profiles.SetOnline(ctx, me, online, s.now())
}
