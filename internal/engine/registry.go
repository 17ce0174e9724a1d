package engine

import (
	"sort"
	"sync"

	"loopcast/internal/models"
)

// Registry tracks live sessions. It is the single source of truth for
// "what is streaming right now": a session appears only after its process
// proved it is publishing and disappears synchronously when it ends.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

func (r *Registry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ListActive returns the live sessions owned by ownerID, or all live
// sessions when ownerID is empty, newest first.
func (r *Registry) ListActive(ownerID string) []models.StreamInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]models.StreamInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		if ownerID != "" && s.ownerID != ownerID {
			continue
		}
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})
	return infos
}

// CountActive returns how many live sessions ownerID has.
func (r *Registry) CountActive(ownerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.ownerID == ownerID {
			n++
		}
	}
	return n
}
