// Package app assembles the client: services, live components and the
// realtime connection, over either Postgres or the in-memory backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/nebula/internal/auth"
	"github.com/vedran77/nebula/internal/config"
	"github.com/vedran77/nebula/internal/database"
	"github.com/vedran77/nebula/internal/live"
	"github.com/vedran77/nebula/internal/media"
	"github.com/vedran77/nebula/internal/media/s3store"
	"github.com/vedran77/nebula/internal/realtime"
	"github.com/vedran77/nebula/internal/realtime/pgnotify"
	"github.com/vedran77/nebula/internal/realtime/redisbus"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/internal/repository/memory"
	"github.com/vedran77/nebula/internal/repository/postgres"
	"github.com/vedran77/nebula/internal/service"
	"github.com/vedran77/nebula/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Memory runs everything in process with no external services.
	Memory bool
	// TokenStore overrides where the session is kept.
	TokenStore service.TokenStore
}

type repos struct {
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	convs    repository.ConversationRepository
	messages repository.MessageRepository
	calls    repository.CallRepository
	signals  repository.SignalRepository
}

// App is one client session's worth of wiring.
type App struct {
	Config *config.Config
	Log    *slog.Logger

	Auth          *service.AuthService
	Users         *service.UserService
	Presence      *service.PresenceService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Signals       *service.SignalService
	Calls         *service.CallService
	Session       *live.SessionStore
	Uploader      *media.Uploader

	memory bool
	pool   *pgxpool.Pool
	bus    *realtime.Bus

	mu       sync.Mutex
	feed     realtime.ChangeFeed
	channels realtime.Broadcaster
	group    *errgroup.Group
	cancel   context.CancelFunc
	closers  []func() error
}

// Open builds the app. With opts.Memory no network connection is made.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Log: logger, memory: opts.Memory}

	var (
		r       repos
		objects media.ObjectStore
		baseURL string
	)
	if opts.Memory {
		a.bus = realtime.NewBus(logger)
		a.closers = append(a.closers, func() error { a.bus.Close(); return nil })
		store := memory.NewStore(a.bus, logger)
		r = repos{
			accounts: memory.NewAccountRepo(store),
			profiles: memory.NewProfileRepo(store),
			convs:    memory.NewConversationRepo(store),
			messages: memory.NewMessageRepo(store),
			calls:    memory.NewCallRepo(store),
			signals:  memory.NewSignalRepo(store),
		}
		objects = media.NewMemoryStore()
		baseURL = "memory://storage"
	} else {
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		r = repos{
			accounts: postgres.NewAccountRepo(pool),
			profiles: postgres.NewProfileRepo(pool),
			convs:    postgres.NewConversationRepo(pool),
			messages: postgres.NewMessageRepo(pool),
			calls:    postgres.NewCallRepo(pool),
			signals:  postgres.NewSignalRepo(pool),
		}
		objects = s3store.New(s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		baseURL = cfg.S3PublicURL
		if baseURL == "" {
			baseURL = cfg.S3Endpoint
		}
	}

	tokens := opts.TokenStore
	if tokens == nil {
		if opts.Memory {
			tokens = service.NewMemoryTokenStore()
		} else {
			tokens = service.NewFileTokenStore(cfg.SessionFile)
		}
	}

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL)
	a.Auth = service.NewAuthService(r.accounts, r.profiles, issuer, tokens, logger)
	a.Users = service.NewUserService(r.profiles, a.Auth)
	a.Presence = service.NewPresenceService(r.profiles, a.Auth)
	a.Conversations = service.NewConversationService(r.convs, r.messages, r.profiles, a.Auth, logger)
	a.Messages = service.NewMessageService(r.messages, r.convs, a.Auth, logger)
	a.Signals = service.NewSignalService(r.signals, a.Auth)
	a.Calls = service.NewCallService(r.calls, a.Auth)
	a.Session = live.NewSessionStore(a.Auth, a.Users, a.Presence, logger)
	a.Uploader = media.NewUploader(objects, baseURL, logger)

	return a, nil
}

// Realtime returns the change feed and broadcast channels, connecting on
// first use. Remote gateways need a signed-in session.
func (a *App) Realtime(ctx context.Context) (realtime.ChangeFeed, realtime.Broadcaster, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.feed != nil {
		return a.feed, a.channels, nil
	}

	switch {
	case a.memory:
		a.feed, a.channels = a.bus, a.bus

	case a.Config.RealtimeURL != "":
		session, err := a.Auth.CurrentSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		if session == nil {
			return nil, nil, service.ErrNotAuthenticated
		}
		remote, err := ws.Dial(ctx, a.Config.RealtimeURL, session.AccessToken, a.Log)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, remote.Close)
		a.feed, a.channels = remote, remote

	default:
		runCtx, cancel := context.WithCancel(context.Background())
		g, runCtx := errgroup.WithContext(runCtx)
		listener := pgnotify.New(a.pool, a.Log)
		g.Go(func() error {
			return listener.Run(runCtx)
		})
		a.group, a.cancel = g, cancel
		a.closers = append(a.closers, func() error { listener.Close(); return nil })

		var channels realtime.Broadcaster = listener.Bus
		if rb, err := redisbus.Connect(ctx, a.Config.RedisURL, a.Log); err != nil {
			a.Log.Warn("redis unavailable, typing signals stay local", "error", err)
		} else {
			a.closers = append(a.closers, rb.Close)
			channels = rb
		}
		a.feed, a.channels = listener, channels
	}
	return a.feed, a.channels, nil
}

// Synchronizer builds a message synchronizer on the realtime connection.
func (a *App) Synchronizer(ctx context.Context) (*live.Synchronizer, error) {
	feed, channels, err := a.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	return live.NewSynchronizer(live.SynchronizerConfig{
		Messages: a.Messages,
		Reads:    a.Conversations,
		Feed:     feed,
		Channels: channels,
		Identity: a.Auth,
		Logger:   a.Log,
	}), nil
}

func (a *App) Registry(ctx context.Context) (*live.Registry, error) {
	feed, _, err := a.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	return live.NewRegistry(a.Conversations, feed, a.Auth, a.Log), nil
}

func (a *App) Feed(ctx context.Context) (*live.Feed, error) {
	feed, _, err := a.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	return live.NewFeed(a.Signals, feed, a.Log), nil
}

func (a *App) CallHistory(ctx context.Context) (*live.CallHistory, error) {
	feed, _, err := a.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	return live.NewCallHistory(a.Calls, feed, a.Auth, a.Log), nil
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	cancel, group := a.cancel, a.group
	a.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("realtime listener: %w", err))
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
