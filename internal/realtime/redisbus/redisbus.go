// Package redisbus implements broadcast channels on Redis pub/sub so that
// every gateway instance sees every typing signal.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vedran77/nebula/internal/realtime"
)

// KeyPrefix namespaces broadcast channels in Redis.
const KeyPrefix = "broadcast:"

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type Bus struct {
	client *redis.Client
	log    *slog.Logger

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// Options accepts either a redis:// URL or a bare host:port.
func Options(redisURL string) (*redis.Options, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		return opts, nil
	}
	if redisURL == "" {
		redisURL = "localhost:6379"
	}
	return &redis.Options{Addr: redisURL}, nil
}

func New(client *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{client: client, log: logger, subs: make(map[*redis.PubSub]struct{})}
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, redisURL string, logger *slog.Logger) (*Bus, error) {
	opts, err := Options(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return New(client, logger), nil
}

func (b *Bus) Join(ctx context.Context, channel string, handler realtime.BroadcastHandler) (realtime.Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("join: channel is required")
	}

	ps := b.client.Subscribe(ctx, KeyPrefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	box := realtime.NewMailbox(realtime.DefaultMailboxSize)
	go func() {
		for msg := range ps.Channel() {
			event, payload, err := Decode(msg.Payload)
			if err != nil {
				b.log.Warn("redisbus: dropping malformed message", "channel", channel, "error", err)
				continue
			}
			if !box.Post(func() { handler(event, payload) }) {
				b.log.Warn("redisbus: dropped broadcast", "channel", channel)
			}
		}
	}()

	var once sync.Once
	return realtime.SubscriptionFunc(func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			if err := ps.Close(); err != nil {
				b.log.Debug("redisbus: closing subscription", "channel", channel, "error", err)
			}
			box.Close()
		})
	}), nil
}

func (b *Bus) Send(ctx context.Context, channel, event string, payload any) error {
	data, err := Encode(event, payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, KeyPrefix+channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Close drops every subscription and the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	for ps := range b.subs {
		ps.Close()
		delete(b.subs, ps)
	}
	b.mu.Unlock()
	return b.client.Close()
}

func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding broadcast payload: %w", err)
	}
	data, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding broadcast: %w", err)
	}
	return data, nil
}

func Decode(data string) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return "", nil, fmt.Errorf("decoding broadcast: %w", err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("broadcast without event")
	}
	return env.Event, env.Payload, nil
}
