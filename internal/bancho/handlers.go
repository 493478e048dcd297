package bancho

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
	"github.com/dzifors/nova/internal/session"
)

type handlerFunc func(s *Server, p *session.Player, r *protocol.Reader) error

type packetHandler struct {
	handle handlerFunc
	// Restricted players only get the handlers that keep their own client
	// functional. Everything publicly visible is withheld.
	allowRestricted bool
}

func (s *Server) registerHandlers() {
	s.handlers = make(map[protocol.ClientPacketID]packetHandler)

	register := func(id protocol.ClientPacketID, allowRestricted bool, fn handlerFunc) {
		s.handlers[id] = packetHandler{handle: fn, allowRestricted: allowRestricted}
	}

	register(protocol.ClientChangeAction, true, handleChangeAction)
	register(protocol.ClientSendPublicMessage, false, handleSendPublicMessage)
	register(protocol.ClientLogout, true, handleLogout)
	register(protocol.ClientRequestStatusUpdate, true, handleRequestStatusUpdate)
	register(protocol.ClientPing, true, handlePing)
	register(protocol.ClientStartSpectating, false, handleStartSpectating)
	register(protocol.ClientStopSpectating, false, handleStopSpectating)
	register(protocol.ClientSpectateFrames, false, handleSpectateFrames)
	register(protocol.ClientErrorReport, true, handleErrorReport)
	register(protocol.ClientCantSpectate, false, handleCantSpectate)
	register(protocol.ClientSendPrivateMessage, true, handleSendPrivateMessage)
	register(protocol.ClientPartLobby, true, handlePartLobby)
	register(protocol.ClientJoinLobby, false, handleJoinLobby)
	register(protocol.ClientChannelJoin, true, handleChannelJoin)
	register(protocol.ClientFriendAdd, true, handleFriendAdd)
	register(protocol.ClientFriendRemove, true, handleFriendRemove)
	register(protocol.ClientChannelPart, true, handleChannelPart)
	register(protocol.ClientReceiveUpdates, true, handleReceiveUpdates)
	register(protocol.ClientSetAwayMessage, true, handleSetAwayMessage)
	register(protocol.ClientUserStatsRequest, true, handleUserStatsRequest)
	register(protocol.ClientUserPresenceRequest, true, handleUserPresenceRequest)
	register(protocol.ClientUserPresenceRequestAll, true, handleUserPresenceRequestAll)
	register(protocol.ClientToggleBlockNonFriendDMs, true, handleToggleBlockNonFriendDMs)
}

func handleChangeAction(s *Server, p *session.Player, r *protocol.Reader) error {
	action, err := r.ReadUint8()
	if err != nil {
		return err
	}
	actionInfo, err := r.ReadString()
	if err != nil {
		return err
	}
	mapMD5, err := r.ReadString()
	if err != nil {
		return err
	}
	mods, err := r.ReadUint32()
	if err != nil {
		return err
	}
	mode, err := r.ReadUint8()
	if err != nil {
		return err
	}
	mapID, err := r.ReadInt32()
	if err != nil {
		return err
	}

	p.SetStatus(session.Status{
		Action:     session.Action(action),
		ActionInfo: actionInfo,
		MapMD5:     mapMD5,
		Mods:       int32(mods),
		Mode:       session.GameMode(mode),
		MapID:      mapID,
	})

	if !p.IsRestricted() {
		s.registry.Broadcast(protocol.UserStats(p.StatsInfo()))
	}
	return nil
}

func handleSendPublicMessage(s *Server, p *session.Player, r *protocol.Reader) error {
	m, err := r.ReadMessage()
	if err != nil {
		return err
	}
	if p.IsSilenced() {
		s.logger.Warnf("%s tried to chat while silenced", p)
		return nil
	}

	channel := s.resolveChannelAlias(p, m.Recipient)
	if channel == nil {
		s.logger.Warnf("%s wrote to unresolvable channel %q", p, m.Recipient)
		return nil
	}
	if !channel.Contains(p) {
		s.logger.Warnf("%s wrote to %s without being a member", p, channel.Name)
		return nil
	}
	if !channel.CanWrite(p.Privileges()) {
		s.logger.Warnf("%s lacks write privileges for %s", p, channel.Name)
		return nil
	}

	channel.Send(p, m.Text)
	return nil
}

// resolveChannelAlias maps the client-facing channel name to the actual
// channel. The client only ever sees "#spectator" for the per-host
// spectator channels, so those are resolved through the session's
// relationships.
func (s *Server) resolveChannelAlias(p *session.Player, name string) *session.Channel {
	if name == "#spectator" {
		host := p
		if hostID := p.SpectatingID(); hostID != 0 {
			host = s.registry.GetByID(hostID)
			if host == nil {
				return nil
			}
		}
		return host.SpectatorChannel()
	}
	if strings.HasPrefix(name, "#multi") {
		return nil
	}
	return s.ChannelByName(name)
}

func handleLogout(s *Server, p *session.Player, r *protocol.Reader) error {
	if err := r.Skip(4); err != nil {
		return err
	}

	// Old clients fire a logout right after logging in. Ignore it so the
	// fresh session survives.
	if time.Since(p.LoginTime) < time.Second {
		p.Enqueue(protocol.UserStats(p.StatsInfo()))
		return nil
	}

	s.setOffline(context.Background(), p)
	p.Logout(s.registry, s.logger)

	if err := data.UpdateAccountActivity(s.db, p.ID); err != nil {
		s.logger.Warnf("stamping activity for %s: %v", p, err)
	}
	return nil
}

func handleRequestStatusUpdate(_ *Server, p *session.Player, _ *protocol.Reader) error {
	p.Enqueue(protocol.UserStats(p.StatsInfo()))
	return nil
}

func handlePing(_ *Server, p *session.Player, _ *protocol.Reader) error {
	p.Enqueue(protocol.Pong())
	return nil
}

func handleStartSpectating(s *Server, p *session.Player, r *protocol.Reader) error {
	hostID, err := r.ReadInt32()
	if err != nil {
		return err
	}

	host := s.registry.GetByID(uint64(hostID))
	if host == nil {
		s.logger.Warnf("%s tried to spectate offline user %d", p, hostID)
		return nil
	}
	if host == p {
		return nil
	}

	// Moving between hosts detaches from the old one first.
	if currentID := p.SpectatingID(); currentID != 0 && currentID != uint64(hostID) {
		if current := s.registry.GetByID(currentID); current != nil {
			current.RemoveSpectator(s.registry, p)
		}
	}

	host.AddSpectator(s.registry, p)
	return nil
}

func handleStopSpectating(s *Server, p *session.Player, _ *protocol.Reader) error {
	hostID := p.SpectatingID()
	if hostID == 0 {
		return nil
	}
	if host := s.registry.GetByID(hostID); host != nil {
		host.RemoveSpectator(s.registry, p)
	}
	return nil
}

func handleSpectateFrames(s *Server, p *session.Player, r *protocol.Reader) error {
	bundle, err := r.ReadReplayFrameBundle()
	if err != nil {
		return err
	}
	p.BroadcastFrames(s.registry, bundle.Raw)
	return nil
}

func handleErrorReport(s *Server, p *session.Player, r *protocol.Reader) error {
	report, err := r.ReadString()
	if err != nil {
		return err
	}
	s.logger.Debugf("client error report from %s: %s", p, report)
	return nil
}

func handleCantSpectate(s *Server, p *session.Player, _ *protocol.Reader) error {
	hostID := p.SpectatingID()
	if hostID == 0 {
		return nil
	}
	host := s.registry.GetByID(hostID)
	if host == nil {
		return nil
	}

	cant := protocol.SpectatorCantSpectate(int32(p.ID))
	host.Enqueue(cant)
	for _, spectator := range host.Spectators(s.registry) {
		spectator.Enqueue(cant)
	}
	return nil
}

func handleSendPrivateMessage(s *Server, p *session.Player, r *protocol.Reader) error {
	m, err := r.ReadMessage()
	if err != nil {
		return err
	}
	if p.IsSilenced() {
		s.logger.Warnf("%s tried to DM while silenced", p)
		return nil
	}

	target := s.registry.GetByName(m.Recipient)
	if target == nil {
		s.logger.Debugf("%s messaged offline user %q", p, m.Recipient)
		return nil
	}

	if target.PMPrivate() && !target.HasFriend(p.ID) {
		p.Enqueue(protocol.UserDMBlocked(target.Name))
		return nil
	}
	if target.IsSilenced() {
		p.Enqueue(protocol.TargetSilenced(target.Name))
		return nil
	}

	target.Enqueue(protocol.SendMessage(protocol.Message{
		Sender:    p.Name,
		Text:      m.Text,
		Recipient: target.Name,
		SenderID:  int32(p.ID),
	}))

	if away := target.AwayMessage(); away != "" {
		p.Enqueue(protocol.SendMessage(protocol.Message{
			Sender:    target.Name,
			Text:      away,
			Recipient: p.Name,
			SenderID:  int32(target.ID),
		}))
	}
	return nil
}

func handlePartLobby(_ *Server, p *session.Player, _ *protocol.Reader) error {
	p.SetInLobby(false)
	return nil
}

func handleJoinLobby(_ *Server, p *session.Player, _ *protocol.Reader) error {
	p.SetInLobby(true)
	return nil
}

func handleChannelJoin(s *Server, p *session.Player, r *protocol.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return err
	}

	channel := s.resolveChannelAlias(p, name)
	if channel == nil || !p.JoinChannel(channel, s.registry) {
		s.logger.Warnf("%s failed to join channel %q", p, name)
	}
	return nil
}

func handleChannelPart(s *Server, p *session.Player, r *protocol.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return err
	}

	channel := s.resolveChannelAlias(p, name)
	if channel == nil {
		return nil
	}
	p.LeaveChannel(channel, s.registry, false)
	return nil
}

func handleFriendAdd(s *Server, p *session.Player, r *protocol.Reader) error {
	friendID, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if friendID <= 0 || uint64(friendID) == p.ID {
		return nil
	}

	if err := data.AddFriend(s.db, p.ID, uint64(friendID)); err != nil {
		return fmt.Errorf("adding friend %d for %s: %w", friendID, p, err)
	}
	p.AddFriendID(uint64(friendID))
	return nil
}

func handleFriendRemove(s *Server, p *session.Player, r *protocol.Reader) error {
	friendID, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if friendID <= 0 {
		return nil
	}

	if err := data.RemoveFriend(s.db, p.ID, uint64(friendID)); err != nil {
		return fmt.Errorf("removing friend %d for %s: %w", friendID, p, err)
	}
	p.RemoveFriendID(uint64(friendID))
	return nil
}

func handleReceiveUpdates(_ *Server, p *session.Player, r *protocol.Reader) error {
	filter, err := r.ReadInt32()
	if err != nil {
		return err
	}
	p.SetPresenceFilter(session.PresenceFilter(filter))
	return nil
}

func handleSetAwayMessage(_ *Server, p *session.Player, r *protocol.Reader) error {
	m, err := r.ReadMessage()
	if err != nil {
		return err
	}
	p.SetAwayMessage(m.Text)
	return nil
}

func handleUserStatsRequest(s *Server, p *session.Player, r *protocol.Reader) error {
	ids, err := r.ReadInt32ListInt16Length()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if uint64(id) == p.ID {
			continue
		}
		other := s.registry.GetByID(uint64(id))
		if other == nil || other.IsRestricted() {
			continue
		}
		p.Enqueue(protocol.UserStats(other.StatsInfo()))
	}
	return nil
}

func handleUserPresenceRequest(s *Server, p *session.Player, r *protocol.Reader) error {
	ids, err := r.ReadInt32ListInt16Length()
	if err != nil {
		return err
	}

	for _, id := range ids {
		other := s.registry.GetByID(uint64(id))
		if other == nil || other.IsRestricted() {
			continue
		}
		p.Enqueue(protocol.UserPresence(other.PresenceInfo()))
	}
	return nil
}

func handleUserPresenceRequestAll(s *Server, p *session.Player, r *protocol.Reader) error {
	// The payload is the client's online user count, unused server side.
	if err := r.Skip(4); err != nil {
		return err
	}

	for _, other := range s.registry.Unrestricted() {
		if other != p {
			p.Enqueue(protocol.UserPresence(other.PresenceInfo()))
		}
	}
	return nil
}

func handleToggleBlockNonFriendDMs(_ *Server, p *session.Player, r *protocol.Reader) error {
	value, err := r.ReadInt32()
	if err != nil {
		return err
	}
	p.SetPMPrivate(value == 1)
	return nil
}
