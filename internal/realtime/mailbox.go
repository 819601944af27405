package realtime

import "sync"

// DefaultMailboxSize is the queue depth of a broadcast subscription before
// deliveries are dropped.
const DefaultMailboxSize = 256

// Unbounded makes a mailbox that never drops. Change feeds use it: every
// row change must reach the handler.
const Unbounded = 0

// Mailbox runs posted functions one at a time, in order, on its own goroutine.
type Mailbox struct {
	limit int
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	queue  []func()
	closed bool

	// running is held while a posted function runs.
	running sync.Mutex
}

// NewMailbox returns a mailbox holding at most limit queued functions, or
// any number when limit is Unbounded.
func NewMailbox(limit int) *Mailbox {
	if limit < 0 {
		limit = DefaultMailboxSize
	}
	m := &Mailbox{
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go m.run()
	return m
}

// Post queues fn. It reports false when the mailbox is closed or full.
func (m *Mailbox) Post(fn func()) bool {
	m.mu.Lock()
	if m.closed || (m.limit > 0 && len(m.queue) >= m.limit) {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of queued functions.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops the mailbox and drops queued functions. It waits for a
// function already running, so it must not be called from inside one.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.queue = nil
		m.mu.Unlock()
		close(m.done)
	})
	m.running.Lock()
	m.running.Unlock()
}

func (m *Mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for m.next() {
		}
	}
}

// next runs the oldest queued function and reports whether it ran one.
func (m *Mailbox) next() bool {
	m.mu.Lock()
	if m.closed || len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.running.Lock()
	m.mu.Unlock()

	defer m.running.Unlock()
	fn()
	return true
}
