package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/vedran77/nebula/internal/realtime"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// remoteReadLimit bounds a single envelope from the gateway. Change rows can
// be larger than anything a client sends.
const remoteReadLimit = 1 << 20

// ServerError is an error envelope returned for a request.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// IsRateLimited reports whether err is the gateway's broadcast rate limit.
func IsRateLimited(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == CodeRateLimited
}

type remoteSub struct {
	onChange    realtime.ChangeHandler
	onBroadcast realtime.BroadcastHandler
	box         *realtime.Mailbox
}

// Remote is a gateway connection. It implements realtime.ChangeFeed and
// realtime.Broadcaster, so components can run against a gateway exactly as
// they run against an in-process bus.
type Remote struct {
	conn *websocket.Conn
	log  *slog.Logger

	nextRef atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan error
	subs    map[string]*remoteSub
	closed  bool
	done    chan struct{}
	err     error
}

// Dial connects to the gateway at url (ws:// or http://) using token as the
// bearer credential.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Remote, error) {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dialing gateway: unauthorized: %w", err)
		}
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}
	conn.SetReadLimit(remoteReadLimit)

	r := &Remote{
		conn:    conn,
		log:     logger,
		pending: make(map[string]chan error),
		subs:    make(map[string]*remoteSub),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *Remote) readLoop() {
	var err error
	for {
		var env Envelope
		if err = wsjson.Read(context.Background(), r.conn, &env); err != nil {
			break
		}
		r.dispatch(&env)
	}
	r.shutdown(err)
}

func (r *Remote) dispatch(env *Envelope) {
	switch env.Type {
	case TypeAck, TypePong:
		r.resolve(env.Ref, nil)

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			p = ErrorPayload{Code: "UNKNOWN", Message: string(env.Payload)}
		}
		if !r.resolve(env.Ref, &ServerError{Code: p.Code, Message: p.Message}) {
			r.log.Warn("gateway error", "ref", env.Ref, "code", p.Code, "message", p.Message)
		}

	case TypeChange:
		var change realtime.Change
		if err := json.Unmarshal(env.Payload, &change); err != nil {
			r.log.Warn("decoding change", "ref", env.Ref, "error", err)
			return
		}
		r.mu.Lock()
		sub := r.subs[env.Ref]
		r.mu.Unlock()
		if sub != nil && sub.onChange != nil {
			handler := sub.onChange
			if !sub.box.Post(func() { handler(change) }) {
				r.log.Debug("change after unsubscribe", "ref", env.Ref)
			}
		}

	case TypeBroadcast:
		var p BroadcastPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			r.log.Warn("decoding broadcast", "ref", env.Ref, "error", err)
			return
		}
		r.mu.Lock()
		sub := r.subs[env.Ref]
		r.mu.Unlock()
		if sub != nil && sub.onBroadcast != nil {
			handler := sub.onBroadcast
			if !sub.box.Post(func() { handler(p.Event, p.Payload) }) {
				r.log.Warn("dropped broadcast", "ref", env.Ref, "event", p.Event)
			}
		}
	}
}

func (r *Remote) resolve(ref string, err error) bool {
	r.mu.Lock()
	ch, ok := r.pending[ref]
	delete(r.pending, ref)
	r.mu.Unlock()
	if ok {
		ch <- err
	}
	return ok
}

func (r *Remote) shutdown(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if err == nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		err = realtime.ErrClosed
	}
	r.err = err
	pending, subs := r.pending, r.subs
	r.pending = make(map[string]chan error)
	r.subs = make(map[string]*remoteSub)
	close(r.done)
	r.mu.Unlock()

	for _, ch := range pending {
		ch <- realtime.ErrClosed
	}
	for _, sub := range subs {
		sub.box.Close()
	}
}

// request sends an envelope and waits for its ack or error.
func (r *Remote) request(ctx context.Context, typ, ref string, payload any) error {
	ch := make(chan error, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return realtime.ErrClosed
	}
	r.pending[ref] = ch
	r.mu.Unlock()

	env, err := NewEnvelope(typ, ref, payload)
	if err == nil {
		err = wsjson.Write(ctx, r.conn, env)
	}
	if err != nil {
		r.mu.Lock()
		delete(r.pending, ref)
		r.mu.Unlock()
		return fmt.Errorf("sending %s: %w", typ, err)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, ref)
		r.mu.Unlock()
		return ctx.Err()
	}
}

func (r *Remote) ref(prefix string) string {
	return prefix + strconv.FormatUint(r.nextRef.Add(1), 10)
}

// track registers sub under ref before asking the gateway for it, so no
// delivery can arrive unrouted.
func (r *Remote) track(ctx context.Context, typ, prefix string, payload any, sub *remoteSub) (realtime.Subscription, error) {
	ref := r.ref(prefix)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, realtime.ErrClosed
	}
	r.subs[ref] = sub
	r.mu.Unlock()

	if err := r.request(ctx, typ, ref, payload); err != nil {
		r.drop(ref)
		return nil, err
	}

	leave := TypeUnsubscribe
	if typ == TypeJoin {
		leave = TypeLeave
	}
	var once sync.Once
	return realtime.SubscriptionFunc(func() {
		once.Do(func() {
			if !r.drop(ref) {
				return
			}
			env, err := NewEnvelope(leave, ref, nil)
			if err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if err := wsjson.Write(ctx, r.conn, env); err != nil {
				r.log.Debug("sending "+leave, "ref", ref, "error", err)
			}
		})
	}), nil
}

func (r *Remote) drop(ref string) bool {
	r.mu.Lock()
	sub, ok := r.subs[ref]
	delete(r.subs, ref)
	r.mu.Unlock()
	if ok {
		sub.box.Close()
	}
	return ok
}

func (r *Remote) Subscribe(ctx context.Context, filter realtime.Filter, handler realtime.ChangeHandler) (realtime.Subscription, error) {
	if filter.Table == "" {
		return nil, fmt.Errorf("subscribe: table is required")
	}
	return r.track(ctx, TypeSubscribe, "c", filter, &remoteSub{
		onChange: handler,
		box:      realtime.NewMailbox(realtime.Unbounded),
	})
}

func (r *Remote) Join(ctx context.Context, channel string, handler realtime.BroadcastHandler) (realtime.Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("join: channel is required")
	}
	return r.track(ctx, TypeJoin, "j", JoinPayload{Channel: channel}, &remoteSub{
		onBroadcast: handler,
		box:         realtime.NewMailbox(realtime.DefaultMailboxSize),
	})
}

// Send publishes on a broadcast channel and waits for the gateway to accept
// it. Rejections by the rate limit satisfy IsRateLimited.
func (r *Remote) Send(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding broadcast payload: %w", err)
	}
	return r.request(ctx, TypeBroadcast, r.ref("b"), BroadcastPayload{Channel: channel, Event: event, Payload: data})
}

// Ping round-trips an application-level ping.
func (r *Remote) Ping(ctx context.Context) error {
	return r.request(ctx, TypePing, r.ref("p"), nil)
}

// Done is closed when the connection ends.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Err returns why the connection ended.
func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Remote) Close() error {
	err := r.conn.Close(websocket.StatusNormalClosure, "")
	r.shutdown(nil)
	return err
}
