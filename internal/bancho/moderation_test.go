package bancho

import (
	"context"
	"testing"
	"time"

	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
	"github.com/dzifors/nova/internal/session"
)

func TestSilencePlayer(t *testing.T) {
	s := setUpServer(t)
	mod := loginPlayer(t, s, "mod")
	p := loginPlayer(t, s, "loudmouth")
	mod.Dequeue()

	if err := s.SilencePlayer(p, mod, 5*time.Minute, "spam"); err != nil {
		t.Fatalf("SilencePlayer() = %v", err)
	}

	if !p.IsSilenced() {
		t.Error("player not silenced")
	}
	account, err := data.FindAccountByID(s.db, p.ID)
	if err != nil || account.SilenceEnd <= time.Now().Unix() {
		t.Errorf("silence not persisted: %+v, %v", account, err)
	}

	packets := decodeServerPackets(t, p.Dequeue())
	if findPacket(packets, protocol.ServerSilenceEnd) == nil {
		t.Error("silenced player was not told their silence end")
	}
	modPackets := decodeServerPackets(t, mod.Dequeue())
	if findPacket(modPackets, protocol.ServerUserSilenced) == nil {
		t.Error("other sessions were not told about the silence")
	}

	if err := s.UnsilencePlayer(p, mod); err != nil {
		t.Fatalf("UnsilencePlayer() = %v", err)
	}
	if p.IsSilenced() {
		t.Error("player still silenced after unsilence")
	}
}

func TestSilencedPlayerCannotChat(t *testing.T) {
	s := setUpServer(t)
	mod := loginPlayer(t, s, "mod")
	p := loginPlayer(t, s, "loudmouth")
	listener := loginPlayer(t, s, "listener")

	join := clientPacket(protocol.ClientChannelJoin, protocol.AppendString(nil, "#lobby"))
	s.handlePackets(p, join)
	s.handlePackets(listener, join)
	listener.Dequeue()

	if err := s.SilencePlayer(p, mod, time.Minute, "spam"); err != nil {
		t.Fatalf("SilencePlayer() = %v", err)
	}
	listener.Dequeue()

	var payload []byte
	payload = protocol.AppendString(payload, "")
	payload = protocol.AppendString(payload, "can you hear me")
	payload = protocol.AppendString(payload, "#lobby")
	payload = append(payload, 0, 0, 0, 0)
	s.handlePackets(p, clientPacket(protocol.ClientSendPublicMessage, payload))

	if packets := decodeServerPackets(t, listener.Dequeue()); findPacket(packets, protocol.ServerSendMessage) != nil {
		t.Error("silenced player's message was delivered")
	}
}

func TestRestrictPlayer(t *testing.T) {
	s := setUpServer(t)
	mod := loginPlayer(t, s, "mod")
	p := loginPlayer(t, s, "cheater")

	if err := s.RestrictPlayer(p, mod, "multiaccounting"); err != nil {
		t.Fatalf("RestrictPlayer() = %v", err)
	}

	if s.registry.GetByID(p.ID) != nil {
		t.Error("restricted player still has a live session")
	}
	account, err := data.FindAccountByID(s.db, p.ID)
	if err != nil || account.Privileges != 0 {
		t.Errorf("restriction not persisted: privileges %d, %v", account.Privileges, err)
	}

	var logs []data.AuditLog
	if err := s.db.Find(&logs).Error; err != nil || len(logs) != 1 {
		t.Fatalf("audit logs = %v, %v, expected exactly one entry", logs, err)
	}
	if logs[0].ActorID != mod.ID || logs[0].TargetID != p.ID || logs[0].Action != "restrict" {
		t.Errorf("audit log = %+v", logs[0])
	}
}

func TestRestrictDropsLeaderboardEntry(t *testing.T) {
	ctx := context.Background()
	s := setUpServer(t)
	presence := attachPresence(t, s)
	mod := loginPlayer(t, s, "mod")
	p := loginPlayer(t, s, "cheater")

	if rank := presence.GlobalRank(ctx, p, session.ModeOsu); rank == 0 {
		t.Fatal("player never reached the leaderboard")
	}

	if err := s.RestrictPlayer(p, mod, "multiaccounting"); err != nil {
		t.Fatalf("RestrictPlayer() = %v", err)
	}

	if rank := presence.GlobalRank(ctx, p, session.ModeOsu); rank != 0 {
		t.Errorf("restricted player still ranks %d on the leaderboard", rank)
	}
}

func TestRestrictSurvivesAuditLogFailure(t *testing.T) {
	s := setUpServer(t)
	mod := loginPlayer(t, s, "mod")
	p := loginPlayer(t, s, "cheater")

	// An unwritable audit log must not block the restriction itself.
	if err := s.db.Migrator().DropTable(&data.AuditLog{}); err != nil {
		t.Fatalf("error dropping audit table: %v", err)
	}

	if err := s.RestrictPlayer(p, mod, "multiaccounting"); err != nil {
		t.Fatalf("RestrictPlayer() = %v", err)
	}

	if s.registry.GetByID(p.ID) != nil {
		t.Error("restricted player still has a live session")
	}
	account, err := data.FindAccountByID(s.db, p.ID)
	if err != nil || account.Privileges != 0 {
		t.Errorf("restriction not persisted: privileges %d, %v", account.Privileges, err)
	}
}
