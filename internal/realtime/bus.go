package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

type changeSub struct {
	filter  Filter
	handler ChangeHandler
	box     *Mailbox
}

type channelSub struct {
	handler BroadcastHandler
	box     *Mailbox
}

// Bus is an in-process ChangeFeed and Broadcaster. Repositories backed by
// memory publish into it; the pgnotify listener feeds it from Postgres.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	changes  map[uint64]*changeSub
	channels map[string]map[uint64]*channelSub
	closed   bool
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		log:      logger,
		changes:  make(map[uint64]*changeSub),
		channels: make(map[string]map[uint64]*channelSub),
	}
}

func (b *Bus) Subscribe(ctx context.Context, filter Filter, handler ChangeHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter.Table == "" {
		return nil, fmt.Errorf("subscribe: table is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	id := b.nextID
	sub := &changeSub{filter: filter, handler: handler, box: NewMailbox(Unbounded)}
	b.changes[id] = sub

	return SubscriptionFunc(func() {
		b.mu.Lock()
		delete(b.changes, id)
		b.mu.Unlock()
		sub.box.Close()
	}), nil
}

// Publish fans c out to every matching subscriber.
func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.changes {
		if !sub.filter.Matches(c) {
			continue
		}
		handler := sub.handler
		if !sub.box.Post(func() { handler(c) }) {
			b.log.Warn("realtime: dropped change", "subscription", id, "filter", sub.filter.String())
		}
	}
}

func (b *Bus) Join(ctx context.Context, channel string, handler BroadcastHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if channel == "" {
		return nil, fmt.Errorf("join: channel is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	id := b.nextID
	sub := &channelSub{handler: handler, box: NewMailbox(DefaultMailboxSize)}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[uint64]*channelSub)
		b.channels[channel] = subs
	}
	subs[id] = sub

	return SubscriptionFunc(func() {
		b.mu.Lock()
		if subs, ok := b.channels[channel]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.channels, channel)
			}
		}
		b.mu.Unlock()
		sub.box.Close()
	}), nil
}

func (b *Bus) Send(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding broadcast payload: %w", err)
	}
	b.Deliver(channel, event, data)
	return nil
}

// Deliver hands an already encoded payload to every member of channel.
func (b *Bus) Deliver(channel, event string, payload json.RawMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.channels[channel] {
		handler := sub.handler
		if !sub.box.Post(func() { handler(event, payload) }) {
			b.log.Warn("realtime: dropped broadcast", "subscription", id, "channel", channel)
		}
	}
}

// Close drops every subscription and waits for running handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var boxes []*Mailbox
	for id, sub := range b.changes {
		boxes = append(boxes, sub.box)
		delete(b.changes, id)
	}
	for name, subs := range b.channels {
		for _, sub := range subs {
			boxes = append(boxes, sub.box)
		}
		delete(b.channels, name)
	}
	b.mu.Unlock()

	for _, box := range boxes {
		box.Close()
	}
}
