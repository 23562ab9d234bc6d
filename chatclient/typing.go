package chatclient

import (
	"sync"
	"time"
)

const (
	// typingDebounce is how long after the last keystroke the client
	// reports the user stopped typing. Fire and forget, no server ack.
	typingDebounce = 1 * time.Second

	// typingExpiry auto-clears a remote typing indicator. A liveness
	// timeout substituting for an explicit stop event if one is dropped.
	typingExpiry = 3 * time.Second
)

// typingDebouncer turns raw keystrokes into at most one start event per
// burst and a stop event one debounce interval after the last keystroke.
type typingDebouncer struct {
	mu     sync.Mutex
	active bool
	timer  *time.Timer
	delay  time.Duration
	emit   func(isTyping bool)
}

func newTypingDebouncer(delay time.Duration, emit func(isTyping bool)) *typingDebouncer {
	return &typingDebouncer{delay: delay, emit: emit}
}

// Keystroke registers user input: emits a start on the first keystroke
// after idle and re-arms the stop timer.
func (d *typingDebouncer) Keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		d.active = true
		d.emit(true)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		d.active = false
		d.mu.Unlock()
		d.emit(false)
	})
}

// Stop cancels any pending stop event without emitting it.
func (d *typingDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.active = false
}

// typingIndicators tracks which remote users are typing in which room,
// expiring each entry after the liveness timeout.
type typingIndicators struct {
	mu      sync.Mutex
	expiry  time.Duration
	typing  map[string]map[string]*time.Timer // conversationID -> userID -> expiry timer
	changed func()
	stopped bool
}

func newTypingIndicators(expiry time.Duration, changed func()) *typingIndicators {
	if changed == nil {
		changed = func() {}
	}
	return &typingIndicators{
		expiry:  expiry,
		typing:  make(map[string]map[string]*time.Timer),
		changed: changed,
	}
}

// Set records or clears a remote user's typing state.
func (t *typingIndicators) Set(conversationID, userID string, isTyping bool) {
	t.mu.Lock()

	if t.stopped {
		t.mu.Unlock()
		return
	}

	room, ok := t.typing[conversationID]
	if !ok {
		if !isTyping {
			t.mu.Unlock()
			return
		}
		room = make(map[string]*time.Timer)
		t.typing[conversationID] = room
	}

	if timer, ok := room[userID]; ok {
		timer.Stop()
		delete(room, userID)
	}

	if isTyping {
		room[userID] = time.AfterFunc(t.expiry, func() {
			t.Set(conversationID, userID, false)
		})
	} else if len(room) == 0 {
		delete(t.typing, conversationID)
	}

	t.mu.Unlock()
	t.changed()
}

// Stop cancels every pending expiry timer and drops all indicator state.
// No change notifications fire after Stop.
func (t *typingIndicators) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for _, room := range t.typing {
		for _, timer := range room {
			timer.Stop()
		}
	}
	t.typing = make(map[string]map[string]*time.Timer)
}

// Users returns the users currently typing in the room.
func (t *typingIndicators) Users(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.typing[conversationID]
	users := make([]string, 0, len(room))
	for userID := range room {
		users = append(users, userID)
	}
	return users
}
