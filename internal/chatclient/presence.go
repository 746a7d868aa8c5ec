package chatclient

import (
	"sync"

	"github.com/saeid-a/CoachChat/internal/wire"
)

// PresenceTracker maintains the online set from connection-scoped status
// events. No TTL: absence of an event means no change, so a peer that
// drops without an explicit offline event stays online until one arrives.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{})}
}

// Apply records a status event: "online" adds, any other value removes.
func (p *PresenceTracker) Apply(userID, status string) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if status == wire.StatusOnline {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
}

func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

func (p *PresenceTracker) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}
