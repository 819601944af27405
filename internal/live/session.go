package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/auth"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/service"
)

type Authenticator interface {
	CurrentSession(ctx context.Context) (*auth.Session, error)
	SignUp(ctx context.Context, email, password string, input service.SignUpInput) (*auth.Session, error)
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn service.AuthStateListener) func()
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate) (*domain.Profile, error)
}

type PresenceWriter interface {
	UpdateOnlineStatus(ctx context.Context, online bool) error
}

// SessionStore tracks who is signed in and their profile, and keeps the
// profile's presence flag in step with the session.
type SessionStore struct {
	auth     Authenticator
	profiles ProfileStore
	presence PresenceWriter
	log      *slog.Logger

	mu       sync.RWMutex
	session  *auth.Session
	profile  *domain.Profile
	loading  bool
	stopAuth func()
	updates  signal
}

func NewSessionStore(authn Authenticator, profiles ProfileStore, presence PresenceWriter, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		auth:     authn,
		profiles: profiles,
		presence: presence,
		log:      logger,
		loading:  true,
		updates:  newSignal(),
	}
}

// Init resolves an existing session and starts following auth state
// changes. It is called once.
func (s *SessionStore) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.stopAuth == nil {
		s.stopAuth = s.auth.OnAuthStateChange(s.onAuthChange)
	}
	s.mu.Unlock()

	session, err := s.auth.CurrentSession(ctx)
	if err == nil && session != nil {
		s.signedIn(ctx, session)
	}

	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	s.updates.notify()
	return err
}

func (s *SessionStore) onAuthChange(event service.AuthEvent, session *auth.Session) {
	ctx, cancel := handlerContext()
	defer cancel()

	switch event {
	case service.EventSignedIn:
		s.signedIn(ctx, session)
	case service.EventSignedOut:
		s.mu.Lock()
		s.session = nil
		s.profile = nil
		s.mu.Unlock()
	}
	s.updates.notify()
}

// signedIn loads the profile and marks it online. Failures leave the
// session in place without a profile.
func (s *SessionStore) signedIn(ctx context.Context, session *auth.Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	profile, err := s.profiles.GetProfile(ctx, session.UserID)
	if err != nil {
		s.log.Error("loading profile", "user_id", session.UserID, "error", err)
	}

	s.mu.Lock()
	if s.session == session {
		s.profile = profile
	}
	s.mu.Unlock()

	if err := s.presence.UpdateOnlineStatus(ctx, true); err != nil {
		s.log.Warn("marking online", "user_id", session.UserID, "error", err)
	}
}

func (s *SessionStore) SignUp(ctx context.Context, email, password string, input service.SignUpInput) error {
	_, err := s.auth.SignUp(ctx, email, password, input)
	return err
}

func (s *SessionStore) SignIn(ctx context.Context, email, password string) error {
	_, err := s.auth.SignIn(ctx, email, password)
	return err
}

// SignOut marks the user offline and then ends the session. If the offline
// write fails the session is kept.
func (s *SessionStore) SignOut(ctx context.Context) error {
	if err := s.presence.UpdateOnlineStatus(ctx, false); err != nil {
		return err
	}
	return s.auth.SignOut(ctx)
}

func (s *SessionStore) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) error {
	id, ok := s.UserID()
	if !ok {
		return service.ErrNotAuthenticated
	}
	profile, err := s.profiles.UpdateProfile(ctx, id, update)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.session != nil && s.session.UserID == id {
		s.profile = profile
	}
	s.mu.Unlock()
	s.updates.notify()
	return nil
}

// Close marks the user offline and stops following auth changes.
func (s *SessionStore) Close(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stopAuth
	s.stopAuth = nil
	signedIn := s.session != nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if !signedIn {
		return nil
	}
	return s.presence.UpdateOnlineStatus(ctx, false)
}

func (s *SessionStore) User() *auth.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *SessionStore) Profile() *domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

func (s *SessionStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *SessionStore) UserID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return uuid.Nil, false
	}
	return s.session.UserID, true
}

// Updates fires after any change to the session or profile.
func (s *SessionStore) Updates() <-chan struct{} {
	return s.updates
}
