package server

import (
	"slices"
	"sync"
)

// PresenceTracker maintains the set of user ids currently believed online.
// Mark calls are idempotent; callers emit presence events only on actual
// transitions, which MarkOnline/MarkOffline report.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online: make(map[string]struct{}),
	}
}

// MarkOnline reports whether the call transitioned userId to online.
func (p *PresenceTracker) MarkOnline(userId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.online[userId]; ok {
		return false
	}

	p.online[userId] = struct{}{}
	return true
}

// MarkOffline reports whether the call transitioned userId to offline.
func (p *PresenceTracker) MarkOffline(userId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.online[userId]; !ok {
		return false
	}

	delete(p.online, userId)
	return true
}

func (p *PresenceTracker) IsOnline(userId string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.online[userId]
	return ok
}

// Snapshot returns the current online set, sorted for stable output.
func (p *PresenceTracker) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	userIds := make([]string, 0, len(p.online))
	for userId := range p.online {
		userIds = append(userIds, userId)
	}
	slices.Sort(userIds)

	return userIds
}
