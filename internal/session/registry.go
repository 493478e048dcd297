package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dzifors/nova/internal/core/data"
)

// Registry is the authoritative collection of live sessions. All lookups and
// mutations are safe for concurrent use from request goroutines.
type Registry struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	players []*Player
}

// NewRegistry returns an empty session registry.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{logger: logger}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Add registers a session. Adding a player that is already present, or one
// that collides with a live session's token, id, or safe name, is a no-op
// logged as a diagnostic since it indicates a handler bug.
func (r *Registry) Add(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.players {
		if other == p {
			r.logger.Warnf("%s double-added to the session registry", p)
			return
		}
		if other.ID == p.ID || other.SafeName == p.SafeName || other.Token() == p.Token() {
			r.logger.Warnf("%s collides with live session %s, not registering", p, other)
			return
		}
	}
	r.players = append(r.players, p)
}

// Remove unregisters a session. Removing an absent player is a no-op,
// logged as a diagnostic since it indicates a handler bug.
func (r *Registry) Remove(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.players {
		if other == p {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return
		}
	}
	r.logger.Warnf("%s removed from the session registry twice", p)
}

// GetByToken finds the session holding the given token, or nil.
func (r *Registry) GetByToken(token string) *Player {
	if token == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.Token() == token {
			return p
		}
	}
	return nil
}

// GetByID finds the session with the given user id, or nil.
func (r *Registry) GetByID(id uint64) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// GetByName finds the session whose name matches case- and
// whitespace-insensitively, or nil.
func (r *Registry) GetByName(name string) *Player {
	safeName := data.SafeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.SafeName == safeName {
			return p
		}
	}
	return nil
}

// Snapshot returns a point-in-time copy of the session list. Membership
// changes after the snapshot is taken do not affect iteration over it.
func (r *Registry) Snapshot() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]*Player, len(r.players))
	copy(players, r.players)
	return players
}

// Unrestricted returns a snapshot of all publicly visible sessions.
func (r *Registry) Unrestricted() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var players []*Player
	for _, p := range r.players {
		if !p.IsRestricted() {
			players = append(players, p)
		}
	}
	return players
}

// Restricted returns a snapshot of all restricted sessions.
func (r *Registry) Restricted() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var players []*Player
	for _, p := range r.players {
		if p.IsRestricted() {
			players = append(players, p)
		}
	}
	return players
}

// Staff returns a snapshot of all sessions holding staff privileges.
func (r *Registry) Staff() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var players []*Player
	for _, p := range r.players {
		if p.Privileges().Has(PrivilegeStaff) {
			players = append(players, p)
		}
	}
	return players
}

// IDs returns the user ids of every live session.
func (r *Registry) IDs() []int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int32, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, int32(p.ID))
	}
	return ids
}

// Broadcast enqueues data to every session except the excluded ones.
// Delivery is snapshot based: players added concurrently may or may not
// receive the data, players removed before the snapshot never do.
func (r *Registry) Broadcast(data []byte, exclude ...*Player) {
	players := r.Snapshot()
	for _, p := range players {
		if containsPlayer(exclude, p) {
			continue
		}
		p.Enqueue(data)
	}
}

// BroadcastUnrestricted enqueues data to every publicly visible session
// except the excluded ones.
func (r *Registry) BroadcastUnrestricted(data []byte, exclude ...*Player) {
	players := r.Unrestricted()
	for _, p := range players {
		if containsPlayer(exclude, p) {
			continue
		}
		p.Enqueue(data)
	}
}

func containsPlayer(players []*Player, p *Player) bool {
	for _, other := range players {
		if other == p {
			return true
		}
	}
	return false
}
