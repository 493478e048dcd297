package session

import (
	"fmt"

	"github.com/dzifors/nova/internal/protocol"
)

// AddSpectator attaches other as a spectator of p. Both sides of the
// relationship are updated together: other records who it is watching, p
// records the watcher's id, and both join p's spectator channel. Existing
// spectators are told about the newcomer.
func (p *Player) AddSpectator(registry *Registry, other *Player) {
	p.mu.Lock()
	channel := p.spectatorChannel
	if channel == nil {
		channel = &Channel{
			Name:    fmt.Sprintf("#spect_%d", p.ID),
			Topic:   fmt.Sprintf("%s's spectator channel", p.Name),
			Instant: true,
		}
		p.spectatorChannel = channel
	}
	p.mu.Unlock()

	if !other.JoinChannel(channel, registry) {
		return
	}

	// The host joins its own channel the first time someone tunes in.
	if !channel.Contains(p) {
		p.JoinChannel(channel, registry)
	}

	joined := protocol.FellowSpectatorJoined(int32(other.ID))
	for _, spectator := range p.Spectators(registry) {
		spectator.Enqueue(joined)
		other.Enqueue(protocol.FellowSpectatorJoined(int32(spectator.ID)))
	}

	p.mu.Lock()
	p.spectatorIDs = append(p.spectatorIDs, other.ID)
	p.mu.Unlock()

	other.mu.Lock()
	other.spectatingID = p.ID
	other.mu.Unlock()

	p.Enqueue(protocol.SpectatorJoined(int32(other.ID)))
}

// RemoveSpectator detaches other from p's spectator list. Both sides are
// cleared together. When the last spectator leaves, the host's spectator
// channel is destroyed.
func (p *Player) RemoveSpectator(registry *Registry, other *Player) {
	other.mu.Lock()
	other.spectatingID = 0
	other.mu.Unlock()

	p.mu.Lock()
	for i, id := range p.spectatorIDs {
		if id == other.ID {
			p.spectatorIDs = append(p.spectatorIDs[:i], p.spectatorIDs[i+1:]...)
			break
		}
	}
	remaining := len(p.spectatorIDs)
	channel := p.spectatorChannel
	p.mu.Unlock()

	if channel != nil {
		other.LeaveChannel(channel, registry, true)

		if remaining == 0 {
			p.LeaveChannel(channel, registry, true)
			p.mu.Lock()
			p.spectatorChannel = nil
			p.mu.Unlock()
		}
	}

	left := protocol.FellowSpectatorLeft(int32(other.ID))
	for _, spectator := range p.Spectators(registry) {
		spectator.Enqueue(left)
	}

	p.Enqueue(protocol.SpectatorLeft(int32(other.ID)))
}

// Spectators resolves the spectator id list into live sessions.
func (p *Player) Spectators(registry *Registry) []*Player {
	p.mu.Lock()
	ids := make([]uint64, len(p.spectatorIDs))
	copy(ids, p.spectatorIDs)
	p.mu.Unlock()

	players := make([]*Player, 0, len(ids))
	for _, id := range ids {
		if spectator := registry.GetByID(id); spectator != nil {
			players = append(players, spectator)
		}
	}
	return players
}

// SpectatorChannel returns the host's live spectator channel, or nil when
// nobody is watching.
func (p *Player) SpectatorChannel() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spectatorChannel
}

// SpectatingID returns the id of the player being watched, or zero.
func (p *Player) SpectatingID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spectatingID
}

// BroadcastFrames relays a raw replay frame bundle to every spectator.
func (p *Player) BroadcastFrames(registry *Registry, raw []byte) {
	frames := protocol.SpectateFrames(raw)
	for _, spectator := range p.Spectators(registry) {
		spectator.Enqueue(frames)
	}
}
