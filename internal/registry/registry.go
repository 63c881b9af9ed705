// Package registry implements the process-wide peer session map
// (spec §4.5). It is pure in-memory and has no knowledge of transport;
// handlers call it on identify, mutate, and close.
package registry

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"tilestroke/internal/model"
)

// Registry owns the set of connected peer sessions. tiles-role
// sessions never enter the map (spec §4.5: "No welcome, no registry
// entry, no presence broadcast").
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.PeerSession
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*model.PeerSession)}
}

// IdentifyPeer mints a fresh session, assigns defaults, and inserts
// it into the registry. It returns the new session and a snapshot of
// every other currently connected peer's (id, x, y), for the welcome
// frame.
func (r *Registry) IdentifyPeer() (*model.PeerSession, []model.PeerSession) {
	s := &model.PeerSession{
		ID:          uuid.New().String(),
		Role:        model.RolePeer,
		CursorColor: randomHue(),
		DisplayName: "guest-" + shortID(),
		X:           0,
		Y:           0,
	}

	r.mu.Lock()
	others := make([]model.PeerSession, 0, len(r.sessions))
	for _, o := range r.sessions {
		others = append(others, *o)
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	return s, others
}

// Remove deletes a session from the registry. Called from the
// session's own close handler (spec §9: leave-broadcast originates
// there, not from the registry).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Update applies a partial presence mutation: any subset of
// (x, y), display name, and cursor color may be set.
func (r *Registry) Update(id string, x, y *float64, displayName, cursorColor *string) (model.PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return model.PeerSession{}, false
	}
	if x != nil && y != nil && isFinite(*x) && isFinite(*y) {
		s.X, s.Y = *x, *y
	}
	if displayName != nil {
		name := *displayName
		if len(name) > 24 {
			name = name[:24]
		}
		s.DisplayName = name
	}
	if cursorColor != nil {
		s.CursorColor = *cursorColor
	}
	return *s, true
}

// Get returns a copy of one session, if present.
func (r *Registry) Get(id string) (model.PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.PeerSession{}, false
	}
	return *s, true
}

// Peers returns a snapshot of every connected peer session, in no
// particular order. Callers (the relay) must not mutate the result.
func (r *Registry) Peers() []model.PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

func randomHue() string {
	hue := rand.Intn(360)
	return fmt.Sprintf("hsl(%d, 70%%, 55%%)", hue)
}

func shortID() string {
	return uuid.New().String()[:8]
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
