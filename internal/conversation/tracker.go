package conversation

import (
	"sync"
)

// Tracker counts in-flight requests per conversation and optionally
// serializes them.
type Tracker struct {
	serialize bool

	mu     sync.Mutex
	active map[string]int
	locks  map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewTracker creates a tracker. With serialize set, Begin blocks until the
// previous request on the same conversation has ended.
func NewTracker(serialize bool) *Tracker {
	return &Tracker{
		serialize: serialize,
		active:    make(map[string]int),
		locks:     make(map[string]*convLock),
	}
}

// Begin marks a request as started and returns the function that ends it.
// The returned function is safe to call more than once.
func (t *Tracker) Begin(conversationID string) (end func()) {
	t.mu.Lock()
	t.active[conversationID]++
	var l *convLock
	if t.serialize {
		l = t.locks[conversationID]
		if l == nil {
			l = &convLock{}
			t.locks[conversationID] = l
		}
		l.refs++
	}
	t.mu.Unlock()

	if l != nil {
		l.mu.Lock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if l != nil {
				l.mu.Unlock()
			}
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.active[conversationID]--; t.active[conversationID] <= 0 {
				delete(t.active, conversationID)
			}
			if l != nil {
				if l.refs--; l.refs == 0 {
					delete(t.locks, conversationID)
				}
			}
		})
	}
}

// Active returns the number of requests running on a conversation.
func (t *Tracker) Active(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[conversationID]
}
