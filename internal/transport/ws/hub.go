package ws

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/vedran77/nebula/internal/realtime"
)

type HubConfig struct {
	Feed     realtime.ChangeFeed
	Channels realtime.Broadcaster
	Logger   *slog.Logger
	Metrics  *Metrics
	// BroadcastRate is the per-user broadcast budget in messages per second.
	BroadcastRate  float64
	BroadcastBurst int
}

// Hub tracks the open realtime connections and gives each one access to the
// change feed and broadcast channels.
type Hub struct {
	feed     realtime.ChangeFeed
	channels realtime.Broadcaster
	limits   *limiterPool
	metrics  *Metrics
	log      *slog.Logger

	clients    map[*Client]struct{}
	count      atomic.Int64
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		feed:       cfg.Feed,
		channels:   cfg.Channels,
		limits:     newLimiterPool(cfg.BroadcastRate, cfg.BroadcastBurst),
		metrics:    metrics,
		log:        logger,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's main event loop. It returns when ctx is done, after
// closing every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.metrics.Connections.Inc()
			h.log.Info("ws hub: client connected", "user_id", client.userID, "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Store(int64(len(h.clients)))
				h.metrics.Connections.Dec()
				client.close()
				h.log.Info("ws hub: client disconnected", "user_id", client.userID, "total", len(h.clients))
			}

		case <-ctx.Done():
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
				h.metrics.Connections.Dec()
			}
			h.count.Store(0)
			return
		}
	}
}

// Connected reports the number of registered connections.
func (h *Hub) Connected() int {
	return int(h.count.Load())
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
