package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TypingTTL is how long a typing indicator lasts after the last signal.
const TypingTTL = 3 * time.Second

type typingEntry struct {
	timer *time.Timer
	token uint64
}

// TypingTracker is the set of identities currently typing. Every signal
// restarts the identity's expiry; an identity is never listed twice.
type TypingTracker struct {
	ttl      time.Duration
	onChange func()

	mu    sync.Mutex
	seq   uint64
	users map[uuid.UUID]*typingEntry
	order []uuid.UUID
}

func NewTypingTracker(ttl time.Duration, onChange func()) *TypingTracker {
	if ttl <= 0 {
		ttl = TypingTTL
	}
	if onChange == nil {
		onChange = func() {}
	}
	return &TypingTracker{ttl: ttl, onChange: onChange, users: make(map[uuid.UUID]*typingEntry)}
}

func (t *TypingTracker) Signal(id uuid.UUID) {
	t.mu.Lock()
	t.seq++
	token := t.seq
	e, exists := t.users[id]
	if exists {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		t.users[id] = e
		t.order = append(t.order, id)
	}
	e.token = token
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(id, token) })
	t.mu.Unlock()

	if !exists {
		t.onChange()
	}
}

// expire removes id unless it was signalled again after token was issued.
func (t *TypingTracker) expire(id uuid.UUID, token uint64) {
	t.mu.Lock()
	e, ok := t.users[id]
	if !ok || e.token != token {
		t.mu.Unlock()
		return
	}
	delete(t.users, id)
	for i, u := range t.order {
		if u == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	t.onChange()
}

// Users returns the typing identities in the order they started typing.
func (t *TypingTracker) Users() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uuid.UUID(nil), t.order...)
}

// Reset forgets everyone and cancels pending expiries.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	had := len(t.order) > 0
	for _, e := range t.users {
		e.timer.Stop()
	}
	t.users = make(map[uuid.UUID]*typingEntry)
	t.order = nil
	t.mu.Unlock()

	if had {
		t.onChange()
	}
}
