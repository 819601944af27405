package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/auth"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/pkg/validator"
)

var (
	ErrEmailTaken    = errors.New("email already taken")
	ErrUsernameTaken = errors.New("username already taken")
	ErrInvalidCreds  = errors.New("invalid email or password")
)

type AuthEvent string

const (
	EventSignedIn  AuthEvent = "SIGNED_IN"
	EventSignedOut AuthEvent = "SIGNED_OUT"
)

// AuthStateListener is called after every sign-in and sign-out. session is
// nil for EventSignedOut.
type AuthStateListener func(event AuthEvent, session *auth.Session)

type AuthService struct {
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	issuer   *auth.TokenIssuer
	store    TokenStore
	log      *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	session   *auth.Session
	loaded    bool
	listeners map[int]AuthStateListener
	nextID    int
}

func NewAuthService(
	accounts repository.AccountRepository,
	profiles repository.ProfileRepository,
	issuer *auth.TokenIssuer,
	store TokenStore,
	logger *slog.Logger,
) *AuthService {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		accounts:  accounts,
		profiles:  profiles,
		issuer:    issuer,
		store:     store,
		log:       logger,
		now:       time.Now,
		listeners: make(map[int]AuthStateListener),
	}
}

type SignUpInput struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (s *AuthService) SignUp(ctx context.Context, email, password string, input SignUpInput) (*auth.Session, error) {
	email = strings.TrimSpace(email)
	input.Username = strings.TrimSpace(input.Username)
	input.FullName = strings.TrimSpace(input.FullName)
	if err := validator.ValidateSignUp(email, input.Username, input.FullName, password).Err(); err != nil {
		return nil, err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	taken, err := s.profiles.GetByUsername(ctx, input.Username)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now()
	id := uuid.New()
	account := &domain.Account{
		ID:           id,
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		CreatedAt:    now,
	}
	profile := &domain.Profile{
		ID:        id,
		Username:  input.Username,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.FullName != "" {
		fullName := input.FullName
		profile.FullName = &fullName
	}

	if err := s.accounts.Create(ctx, account, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	return s.establish(id, account.Email)
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if err := validator.ValidateSignIn(email, password).Err(); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInvalidCreds
	}

	if !auth.VerifyPassword(password, account.PasswordHash) {
		return nil, ErrInvalidCreds
	}

	return s.establish(account.ID, account.Email)
}

func (s *AuthService) establish(userID uuid.UUID, email string) (*auth.Session, error) {
	session, err := s.issuer.Issue(userID, email)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	if err := s.store.Save(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	s.mu.Lock()
	s.session = session
	s.loaded = true
	s.mu.Unlock()

	s.emit(EventSignedIn, session)
	return session, nil
}

// SignOut forgets the session. It fails with ErrNotAuthenticated when there
// is none.
func (s *AuthService) SignOut(ctx context.Context) error {
	session, err := s.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNotAuthenticated
	}

	if err := s.store.Clear(); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	s.emit(EventSignedOut, nil)
	return nil
}

// CurrentSession returns the active session, loading it from the token
// store on first use. It returns (nil, nil) when nobody is signed in.
func (s *AuthService) CurrentSession(ctx context.Context) (*auth.Session, error) {
	s.mu.RLock()
	session, loaded := s.session, s.loaded
	s.mu.RUnlock()

	if !loaded {
		stored, err := s.store.Load()
		if err != nil {
			return nil, err
		}
		if stored != nil {
			if parsed, err := s.issuer.Parse(stored.AccessToken); err == nil {
				session = parsed
			} else {
				s.log.Info("stored session rejected", "error", err)
				if err := s.store.Clear(); err != nil {
					s.log.Warn("clearing stored session", "error", err)
				}
			}
		}

		s.mu.Lock()
		if !s.loaded {
			s.session = session
			s.loaded = true
		}
		session = s.session
		s.mu.Unlock()
	}

	if session != nil && session.Expired(s.now()) {
		return nil, nil
	}
	return session, nil
}

func (s *AuthService) UserID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.Expired(s.now()) {
		return uuid.Nil, false
	}
	return s.session.UserID, true
}

// OnAuthStateChange registers fn and returns a function that removes it.
// Listeners run synchronously on the goroutine that changed the state.
func (s *AuthService) OnAuthStateChange(fn AuthStateListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *AuthService) emit(event AuthEvent, session *auth.Session) {
	s.mu.RLock()
	listeners := make([]AuthStateListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}
