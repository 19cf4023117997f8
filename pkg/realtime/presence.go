package realtime

import (
	"sort"
	"sync"

	"chatsync/pkg/models"
)

// presenceRegistry is the connected-user set broadcast to all sessions.
// One entry per live session, added on successful authentication and
// removed on disconnect.
type presenceRegistry struct {
	mu sync.Mutex
	m  map[string]models.PresenceEntry
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{m: make(map[string]models.PresenceEntry)}
}

func (p *presenceRegistry) add(e models.PresenceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[e.SessionID] = e
}

func (p *presenceRegistry) remove(sessionID string) (models.PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[sessionID]
	delete(p.m, sessionID)
	return e, ok
}

// snapshot returns the current entries ordered by display name then
// session id, so broadcasts are deterministic.
func (p *presenceRegistry) snapshot() []models.PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.PresenceEntry, 0, len(p.m))
	for _, e := range p.m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

func (p *presenceRegistry) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
