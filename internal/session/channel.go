package session

import (
	"strings"
	"sync"

	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
)

// Channel is a chat room. Instant channels (spectator and multiplayer rooms)
// display a fixed name to the client regardless of their internal name.
type Channel struct {
	Name     string
	Topic    string
	AutoJoin bool
	// Instant channels are created on demand and destroyed when emptied.
	Instant bool

	ReadPrivileges  Privileges
	WritePrivileges Privileges

	mu      sync.RWMutex
	members []*Player
}

// NewChannel builds a permanent channel from its stored definition.
func NewChannel(spec data.ChannelSpec) *Channel {
	return &Channel{
		Name:            spec.Name,
		Topic:           spec.Topic,
		AutoJoin:        spec.AutoJoin,
		ReadPrivileges:  Privileges(spec.ReadPrivileges),
		WritePrivileges: Privileges(spec.WritePrivileges),
	}
}

// DisplayName is the channel name shown to clients. Spectator and
// multiplayer channels are renamed to the aliases the client expects.
func (c *Channel) DisplayName() string {
	switch {
	case strings.HasPrefix(c.Name, "#spect_"):
		return "#spectator"
	case strings.HasPrefix(c.Name, "#multi_"):
		return "#multiplayer"
	default:
		return c.Name
	}
}

// CanRead reports whether the given privileges meet the channel's read floor.
func (c *Channel) CanRead(p Privileges) bool {
	if c.ReadPrivileges == 0 {
		return true
	}
	return p&c.ReadPrivileges != 0
}

// CanWrite reports whether the given privileges meet the channel's write floor.
func (c *Channel) CanWrite(p Privileges) bool {
	if c.WritePrivileges == 0 {
		return true
	}
	return p&c.WritePrivileges != 0
}

// Len returns the current member count.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Members returns a point-in-time copy of the member list.
func (c *Channel) Members() []*Player {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := make([]*Player, len(c.members))
	copy(members, c.members)
	return members
}

// Contains reports whether the player is a member.
func (c *Channel) Contains(p *Player) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return containsPlayer(c.members, p)
}

// Info returns the channel descriptor sent in channel info packets.
func (c *Channel) Info() protocol.Channel {
	return protocol.Channel{
		Name:    c.DisplayName(),
		Topic:   c.Topic,
		Players: int32(c.Len()),
	}
}

// Send enqueues a chat message to every member except the sender.
func (c *Channel) Send(sender *Player, text string) {
	message := protocol.SendMessage(protocol.Message{
		Sender:    sender.Name,
		Text:      text,
		Recipient: c.DisplayName(),
		SenderID:  int32(sender.ID),
	})
	for _, member := range c.Members() {
		if member != sender {
			member.Enqueue(message)
		}
	}
}

// SendBot enqueues a message from the given bot session to every member,
// the bot included being harmless since bot queues discard writes.
func (c *Channel) SendBot(bot *Player, text string) {
	message := protocol.SendMessage(protocol.Message{
		Sender:    bot.Name,
		Text:      text,
		Recipient: c.DisplayName(),
		SenderID:  int32(bot.ID),
	})
	for _, member := range c.Members() {
		member.Enqueue(message)
	}
}

// JoinChannel adds the player to the channel after checking the read floor.
// Joining a channel twice fails. On success the join is acknowledged to the
// client and the updated member count is pushed to everyone who can see the
// channel.
func (p *Player) JoinChannel(c *Channel, registry *Registry) bool {
	if c.Contains(p) {
		return false
	}
	if !c.CanRead(p.Privileges()) {
		return false
	}

	c.mu.Lock()
	c.members = append(c.members, p)
	c.mu.Unlock()

	p.mu.Lock()
	p.channels = append(p.channels, c)
	p.mu.Unlock()

	p.Enqueue(protocol.ChannelJoinSuccess(c.DisplayName()))
	c.updateInfo(registry)
	return true
}

// LeaveChannel removes the player from the channel. The removal is
// idempotent. When kick is set the client is told to close the tab.
func (p *Player) LeaveChannel(c *Channel, registry *Registry, kick bool) {
	if !c.Contains(p) {
		return
	}

	c.mu.Lock()
	for i, member := range c.members {
		if member == p {
			c.members = append(c.members[:i], c.members[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	p.mu.Lock()
	for i, channel := range p.channels {
		if channel == c {
			p.channels = append(p.channels[:i], p.channels[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if kick {
		p.Enqueue(protocol.ChannelKick(c.DisplayName()))
	}
	c.updateInfo(registry)
}

// Channels returns a point-in-time copy of the player's joined channels.
func (p *Player) Channels() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	channels := make([]*Channel, len(p.channels))
	copy(channels, p.channels)
	return channels
}

// updateInfo pushes the channel's new member count to every session that
// meets the read floor. Instant channels are only visible to their members.
func (c *Channel) updateInfo(registry *Registry) {
	if c.Instant {
		c.updateInfoMembers()
		return
	}
	info := protocol.ChannelInfo(c.Info())
	for _, p := range registry.Snapshot() {
		if c.CanRead(p.Privileges()) {
			p.Enqueue(info)
		}
	}
}

func (c *Channel) updateInfoMembers() {
	info := protocol.ChannelInfo(c.Info())
	for _, member := range c.Members() {
		member.Enqueue(info)
	}
}
