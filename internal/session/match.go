package session

// Multiplayer membership is tracked by match id only. Sessions carry enough
// state for presence and logout teardown; room orchestration lives with the
// lobby services that own the match lifecycle.

// MatchID returns the id of the joined multiplayer match, or zero.
func (p *Player) MatchID() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.matchID
}

// SetMatchID records the joined multiplayer match.
func (p *Player) SetMatchID(id int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matchID = id
}

// LeaveMatch clears the multiplayer membership.
func (p *Player) LeaveMatch() {
	p.SetMatchID(0)
}
