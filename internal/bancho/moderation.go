package bancho

import (
	"context"
	"fmt"
	"time"

	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
	"github.com/dzifors/nova/internal/session"
)

// SilencePlayer mutes a session for the given duration. The silence is
// persisted, the client is told when it ends, and everyone else sees the
// silenced marker.
func (s *Server) SilencePlayer(p *session.Player, actor *session.Player, duration time.Duration, reason string) error {
	until := time.Now().Add(duration).Unix()
	if err := data.UpdateAccountSilenceEnd(s.db, p.ID, until); err != nil {
		return fmt.Errorf("persisting silence for %s: %w", p, err)
	}
	p.Silence(until)

	if err := data.InsertAuditLog(s.db, actor.ID, p.ID, "silence", reason); err != nil {
		s.logger.Warnf("logging silence of %s: %v", p, err)
	}

	p.Enqueue(protocol.SilenceEnd(p.RemainingSilence()))
	s.registry.Broadcast(protocol.UserSilenced(int32(p.ID)), p)

	s.logger.Infof("%s silenced %s for %s: %s", actor, p, duration, reason)
	return nil
}

// UnsilencePlayer lifts a silence early.
func (s *Server) UnsilencePlayer(p *session.Player, actor *session.Player) error {
	if err := data.UpdateAccountSilenceEnd(s.db, p.ID, 0); err != nil {
		return fmt.Errorf("persisting unsilence for %s: %w", p, err)
	}
	p.Silence(0)

	if err := data.InsertAuditLog(s.db, actor.ID, p.ID, "unsilence", ""); err != nil {
		s.logger.Warnf("logging unsilence of %s: %v", p, err)
	}

	p.Enqueue(protocol.SilenceEnd(0))
	return nil
}

// RestrictPlayer hides an account from public-facing features and forces the
// session to reconnect into the restricted state. The account also comes off
// the mirrored leaderboards.
func (s *Server) RestrictPlayer(p *session.Player, actor *session.Player, reason string) error {
	if err := p.Restrict(s.db, s.registry, s.logger, actor, reason); err != nil {
		return err
	}
	if s.presence != nil {
		s.presence.RemoveRanking(context.Background(), p)
	}
	return nil
}
