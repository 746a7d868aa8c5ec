package chatclient

import (
	"sync"
	"time"
)

// typingQuietPeriod is how long after the last content change a typing
// stop is inferred when no explicit stop happened.
const typingQuietPeriod = 3 * time.Second

// TypingController debounces local typing activity into at most one start
// signal per idle-to-active transition, with a stop on the quiet timer or
// on send. It also tracks the counterpart's typing flag for rendering.
// The emit sink is best-effort; callers wire it to the live stream.
type TypingController struct {
	emit func(isTyping bool)

	mu     sync.Mutex
	quiet  time.Duration
	timer  *time.Timer
	active bool
	remote bool
	closed bool
}

func NewTypingController(emit func(isTyping bool)) *TypingController {
	return &TypingController{
		emit:  emit,
		quiet: typingQuietPeriod,
	}
}

// InputActivity records a content change. The first change after being
// idle emits one start; every change resets the quiet timer.
func (t *TypingController) InputActivity() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if !t.active {
		t.active = true
		t.emit(true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.quiet, t.quietExpired)
}

func (t *TypingController) quietExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || !t.active {
		return
	}
	t.active = false
	t.emit(false)
}

// MessageSent emits an immediate stop and cancels the pending timer:
// sending implies the utterance is complete.
func (t *TypingController) MessageSent() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || !t.active {
		return
	}
	t.stopTimerLocked()
	t.active = false
	t.emit(false)
}

// Reset cancels any pending stop without emitting and clears the remote
// flag. Called on conversation deselect so a stale stop cannot fire
// against a conversation that is no longer active.
func (t *TypingController) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked()
	t.active = false
	t.remote = false
}

// Close tears the controller down permanently.
func (t *TypingController) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked()
	t.active = false
	t.closed = true
}

func (t *TypingController) SetRemote(isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = isTyping
}

// RemoteTyping reports whether the active conversation's counterpart is
// currently typing. Ephemeral UI state only.
func (t *TypingController) RemoteTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *TypingController) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
