package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/nebula/internal/realtime"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBufSize    = 256
)

// Client is one realtime connection. Each subscribe or join it makes is
// kept under the ref the client chose.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]realtime.Subscription

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	conn.SetReadLimit(maxMessageSize)
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		log:    hub.log.With("user_id", userID),
		subs:   make(map[string]realtime.Subscription),
		send:   make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
	}
}

// close drops the client's subscriptions and stops its write pump. It is
// safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]realtime.Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	})
}

// ReadPump reads envelopes until the connection ends or ctx is done.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.remove(c)
		c.close()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var env Envelope
		err := wsjson.Read(ctx, c.conn, &env)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.log.Debug("ws: client disconnected")
			} else {
				c.log.Warn("ws: read error", "error", err)
			}
			return
		}

		c.hub.metrics.Inbound.WithLabelValues(env.Type).Inc()
		c.handleEnvelope(ctx, &env)
	}
}

// WritePump writes queued envelopes and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Warn("ws: write error", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Warn("ws: ping error", "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Client) handleEnvelope(ctx context.Context, env *Envelope) {
	switch env.Type {
	case TypeSubscribe:
		var filter SubscribePayload
		if err := json.Unmarshal(env.Payload, &filter); err != nil || filter.Table == "" {
			c.sendError(env.Ref, CodeInvalidPayload, "subscribe needs a table")
			return
		}
		ref := env.Ref
		c.track(ref, func() (realtime.Subscription, error) {
			return c.hub.feed.Subscribe(ctx, filter, func(change realtime.Change) {
				c.push(TypeChange, ref, change)
			})
		})

	case TypeJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Channel == "" {
			c.sendError(env.Ref, CodeInvalidPayload, "join needs a channel")
			return
		}
		ref := env.Ref
		c.track(ref, func() (realtime.Subscription, error) {
			return c.hub.channels.Join(ctx, p.Channel, func(event string, payload json.RawMessage) {
				c.push(TypeBroadcast, ref, BroadcastPayload{Channel: p.Channel, Event: event, Payload: payload})
			})
		})

	case TypeUnsubscribe, TypeLeave:
		c.mu.Lock()
		sub, ok := c.subs[env.Ref]
		delete(c.subs, env.Ref)
		c.mu.Unlock()
		if !ok {
			c.sendError(env.Ref, CodeUnknownRef, "nothing is subscribed under ref "+env.Ref)
			return
		}
		sub.Unsubscribe()
		c.push(TypeAck, env.Ref, nil)

	case TypeBroadcast:
		var p BroadcastPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Channel == "" || p.Event == "" {
			c.sendError(env.Ref, CodeInvalidPayload, "broadcast needs a channel and an event")
			return
		}
		if !c.hub.limits.Allow(c.userID) {
			c.hub.metrics.RateLimited.Inc()
			c.sendError(env.Ref, CodeRateLimited, "too many broadcasts")
			return
		}
		if err := c.hub.channels.Send(ctx, p.Channel, p.Event, p.Payload); err != nil {
			c.log.Warn("ws: broadcast failed", "channel", p.Channel, "error", err)
			c.sendError(env.Ref, CodeUnavailable, "broadcast failed")
			return
		}
		c.push(TypeAck, env.Ref, nil)

	case TypePing:
		c.push(TypePong, env.Ref, nil)

	default:
		c.sendError(env.Ref, CodeUnknownType, "unknown event type: "+env.Type)
	}
}

// track registers the subscription made by subscribe under ref and
// acknowledges it.
func (c *Client) track(ref string, subscribe func() (realtime.Subscription, error)) {
	if ref == "" {
		c.sendError(ref, CodeInvalidPayload, "ref is required")
		return
	}
	c.mu.Lock()
	_, taken := c.subs[ref]
	c.mu.Unlock()
	if taken {
		c.sendError(ref, CodeDuplicateRef, "ref already in use: "+ref)
		return
	}

	sub, err := subscribe()
	if err != nil {
		c.log.Warn("ws: subscribe failed", "ref", ref, "error", err)
		c.sendError(ref, CodeUnavailable, err.Error())
		return
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	default:
	}
	c.subs[ref] = sub
	c.mu.Unlock()
	c.push(TypeAck, ref, nil)
}

// push queues an envelope. A client that cannot keep up is disconnected.
func (c *Client) push(typ, ref string, payload any) {
	select {
	case <-c.done:
		return
	default:
	}

	env, err := NewEnvelope(typ, ref, payload)
	if err != nil {
		c.log.Error("ws: marshal error", "type", typ, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error("ws: marshal error", "type", typ, "error", err)
		return
	}

	select {
	case c.send <- data:
		c.hub.metrics.Outbound.WithLabelValues(typ).Inc()
	default:
		c.log.Warn("ws: send buffer full, disconnecting")
		c.hub.metrics.Dropped.Inc()
		// push runs inside subscription handlers, which close cannot wait on.
		go func() {
			c.close()
			c.conn.Close(websocket.StatusPolicyViolation, "too slow")
		}()
	}
}

func (c *Client) sendError(ref, code, message string) {
	c.push(TypeError, ref, ErrorPayload{Code: code, Message: message})
}
