package bancho

import (
	"crypto/md5"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dzifors/nova/internal/core"
	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
	"github.com/dzifors/nova/internal/session"
)

const testPassword = "hunter2hunter2"

func testPasswordMD5() string {
	return fmt.Sprintf("%x", md5.Sum([]byte(testPassword)))
}

func setUpServer(t *testing.T) *Server {
	t.Helper()

	// Real deployments run on Postgres; tests use an in-memory compatible
	// SQLite database to avoid the external dependency.
	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "nova.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	if err != nil {
		t.Fatalf("error connecting to database: %v", err)
	}
	if err := db.AutoMigrate(
		&data.Account{}, &data.ModeStats{}, &data.Friendship{}, &data.AuditLog{}, &data.ChannelSpec{},
	); err != nil {
		t.Fatalf("error migrating schema: %v", err)
	}

	config := &core.Config{Domain: "nova.test"}
	config.Login.ReloginGraceSeconds = 10
	config.Bot.ID = 1
	config.Bot.Name = "Nova"

	server, err := NewServer(config, zap.NewNop().Sugar(), db, nil)
	if err != nil {
		t.Fatalf("error building server: %v", err)
	}
	return server
}

// attachPresence backs the server's presence mirror with an in-process redis.
func attachPresence(t *testing.T, s *Server) *session.PresenceStore {
	t.Helper()
	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s.presence = session.NewPresenceStore(client, s.logger)
	return s.presence
}

func seedAccount(t *testing.T, s *Server, name string) *data.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPasswordMD5()), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("error hashing password: %v", err)
	}
	account := &data.Account{
		Name:           name,
		Email:          data.SafeName(name) + "@nova.test",
		PasswordBcrypt: string(hash),
		Privileges:     int(session.PrivilegeUnrestricted),
	}
	if err := data.CreateAccount(s.db, account); err != nil {
		t.Fatalf("error creating account: %v", err)
	}
	return account
}

func loginBody(username, passwordMD5 string) []byte {
	return []byte(username + "\n" + passwordMD5 + "\n" +
		"b20230605|-5|1|aaaa:intel.eth0:bbbb:cccc:dddd:|0\n")
}

// serverPackets decodes the packet headers in a response body.
type serverPacket struct {
	id      protocol.ServerPacketID
	payload []byte
}

func decodeServerPackets(t *testing.T, body []byte) []serverPacket {
	t.Helper()
	var packets []serverPacket
	for len(body) > 0 {
		if len(body) < 7 {
			t.Fatalf("dangling %d bytes at end of response", len(body))
		}
		id := protocol.ServerPacketID(uint16(body[0]) | uint16(body[1])<<8)
		length := int(uint32(body[3]) | uint32(body[4])<<8 | uint32(body[5])<<16 | uint32(body[6])<<24)
		if len(body) < 7+length {
			t.Fatalf("packet %d declares %d payload bytes, %d remain", id, length, len(body)-7)
		}
		packets = append(packets, serverPacket{id: id, payload: body[7 : 7+length]})
		body = body[7+length:]
	}
	return packets
}

func findPacket(packets []serverPacket, id protocol.ServerPacketID) *serverPacket {
	for i := range packets {
		if packets[i].id == id {
			return &packets[i]
		}
	}
	return nil
}

func userIDCode(t *testing.T, packets []serverPacket) int32 {
	t.Helper()
	p := findPacket(packets, protocol.ServerUserID)
	if p == nil {
		t.Fatal("response contains no user id packet")
	}
	code, err := protocol.NewReader(p.payload).ReadInt32()
	if err != nil {
		t.Fatalf("error reading user id payload: %v", err)
	}
	return code
}

func TestParseOsuVersion(t *testing.T) {
	tests := []struct {
		input    string
		date     string
		revision int
		stream   string
		wantErr  bool
	}{
		{input: "b20230605", date: "20230605", stream: "stable"},
		{input: "b20230605.2", date: "20230605", revision: 2, stream: "stable"},
		{input: "b20230101.1tourney", date: "20230101", revision: 1, stream: "tourney"},
		{input: "b20220406cuttingedge", date: "20220406", stream: "cuttingedge"},
		{input: "garbage", wantErr: true},
		{input: "b2023", wantErr: true},
		{input: "b20230605.12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			version, err := parseOsuVersion(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseOsuVersion(%q) succeeded, expected an error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOsuVersion(%q) = %v", tt.input, err)
			}
			if got := version.Date.Format("20060102"); got != tt.date {
				t.Errorf("date = %s, expected %s", got, tt.date)
			}
			if version.Revision != tt.revision {
				t.Errorf("revision = %d, expected %d", version.Revision, tt.revision)
			}
			if version.Stream != tt.stream {
				t.Errorf("stream = %q, expected %q", version.Stream, tt.stream)
			}
		})
	}
}

func TestParseLoginForm(t *testing.T) {
	form, err := parseLoginForm(loginBody("tester", testPasswordMD5()))
	if err != nil {
		t.Fatalf("parseLoginForm() = %v", err)
	}

	if form.username != "tester" {
		t.Errorf("username = %q, expected tester", form.username)
	}
	if form.utcOffset != -5 {
		t.Errorf("utcOffset = %d, expected -5", form.utcOffset)
	}
	if !form.displayCity {
		t.Error("displayCity = false, expected true")
	}
	if form.pmPrivate {
		t.Error("pmPrivate = true, expected false")
	}
	if len(form.adapters) != 2 {
		t.Errorf("adapters = %v, expected 2 entries", form.adapters)
	}
	if form.pathMD5 != "aaaa" || form.adaptersMD5 != "bbbb" || form.uninstallMD5 != "cccc" || form.diskSig != "dddd" {
		t.Errorf("hash block misparsed: %+v", form)
	}
}

func TestParseLoginFormMalformed(t *testing.T) {
	bodies := map[string][]byte{
		"empty":           nil,
		"two lines":       []byte("user\npass\n"),
		"short password":  []byte("user\nabcd\nb20230605|-5|1|a:b:c:d:e:|0\n"),
		"bad client info": []byte("user\n" + testPasswordMD5() + "\nb20230605|-5\n"),
		"bad hash block":  []byte("user\n" + testPasswordMD5() + "\nb20230605|-5|1|a:b:c|0\n"),
		"bad version":     []byte("user\n" + testPasswordMD5() + "\nv1.2.3|-5|1|a:b:c:d:e:|0\n"),
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			if _, err := parseLoginForm(body); err == nil {
				t.Error("parseLoginForm succeeded on a malformed body")
			}
		})
	}
}

func TestLoginMalformedRequestRejected(t *testing.T) {
	s := setUpServer(t)

	resp := s.handleLogin([]byte("nonsense"), "127.0.0.1")

	if resp.token != tokenInvalidRequest {
		t.Errorf("token = %q, expected %q", resp.token, tokenInvalidRequest)
	}
	if code := userIDCode(t, decodeServerPackets(t, resp.body)); code != protocol.LoginFailed {
		t.Errorf("login code = %d, expected %d", code, protocol.LoginFailed)
	}
}

func TestLoginEmptyAdaptersRejected(t *testing.T) {
	s := setUpServer(t)
	seedAccount(t, s, "tester")

	body := []byte("tester\n" + testPasswordMD5() + "\nb20230605|-5|1|aaaa::bbbb:cccc:dddd:|0\n")
	resp := s.handleLogin(body, "127.0.0.1")

	if resp.token != tokenEmptyAdapters {
		t.Errorf("token = %q, expected %q", resp.token, tokenEmptyAdapters)
	}
}

func TestLoginWineClientSkipsAdapterCheck(t *testing.T) {
	s := setUpServer(t)
	seedAccount(t, s, "winer")

	body := []byte("winer\n" + testPasswordMD5() + "\nb20230605|-5|1|aaaa:runningunderwine:bbbb:cccc:dddd:|0\n")
	resp := s.handleLogin(body, "127.0.0.1")

	if code := userIDCode(t, decodeServerPackets(t, resp.body)); code <= 0 {
		t.Errorf("login code = %d, expected a user id", code)
	}
}

func TestLoginUnknownAccountRejected(t *testing.T) {
	s := setUpServer(t)

	resp := s.handleLogin(loginBody("nobody", testPasswordMD5()), "127.0.0.1")

	if resp.token != tokenIncorrectPassword {
		t.Errorf("token = %q, expected %q", resp.token, tokenIncorrectPassword)
	}
	if code := userIDCode(t, decodeServerPackets(t, resp.body)); code != protocol.LoginFailed {
		t.Errorf("login code = %d, expected %d", code, protocol.LoginFailed)
	}
}

func TestLoginWrongPasswordRejected(t *testing.T) {
	s := setUpServer(t)
	seedAccount(t, s, "tester")

	wrongMD5 := fmt.Sprintf("%x", md5.Sum([]byte("not the password")))
	resp := s.handleLogin(loginBody("tester", wrongMD5), "127.0.0.1")

	if resp.token != tokenIncorrectPassword {
		t.Errorf("token = %q, expected %q", resp.token, tokenIncorrectPassword)
	}
}

func TestLoginSuccess(t *testing.T) {
	s := setUpServer(t)
	account := seedAccount(t, s, "tester")

	resp := s.handleLogin(loginBody("tester", testPasswordMD5()), "127.0.0.1")

	if strings.Contains(resp.token, "-") == false || len(resp.token) != 36 {
		t.Errorf("token = %q, expected a session token", resp.token)
	}

	packets := decodeServerPackets(t, resp.body)
	if code := userIDCode(t, packets); code != int32(account.ID) {
		t.Errorf("login code = %d, expected account id %d", code, account.ID)
	}
	for _, id := range []protocol.ServerPacketID{
		protocol.ServerProtocolVersion,
		protocol.ServerPrivileges,
		protocol.ServerChannelInfoEnd,
		protocol.ServerUserPresence,
		protocol.ServerUserStats,
		protocol.ServerFriendsList,
	} {
		if findPacket(packets, id) == nil {
			t.Errorf("welcome bundle is missing packet %d", id)
		}
	}

	p := s.registry.GetByToken(resp.token)
	if p == nil {
		t.Fatal("session not registered after login")
	}
	if p.ID != account.ID {
		t.Errorf("session id = %d, expected %d", p.ID, account.ID)
	}

	// Auto-join channels are entered during the welcome bundle.
	osu := s.ChannelByName("#osu")
	if osu == nil || !osu.Contains(p) {
		t.Error("session did not auto-join #osu")
	}
}

func TestLoginWhileOnlineWithinGraceRejected(t *testing.T) {
	s := setUpServer(t)
	seedAccount(t, s, "tester")

	first := s.handleLogin(loginBody("tester", testPasswordMD5()), "127.0.0.1")
	second := s.handleLogin(loginBody("tester", testPasswordMD5()), "127.0.0.1")

	if second.token != tokenAlreadyLoggedIn {
		t.Errorf("token = %q, expected %q", second.token, tokenAlreadyLoggedIn)
	}
	if s.registry.GetByToken(first.token) == nil {
		t.Error("original session was evicted inside the grace window")
	}
}

func TestLoginEvictsStaleSession(t *testing.T) {
	s := setUpServer(t)
	seedAccount(t, s, "tester")
	s.config.Login.ReloginGraceSeconds = 0

	first := s.handleLogin(loginBody("tester", testPasswordMD5()), "127.0.0.1")
	second := s.handleLogin(loginBody("tester", testPasswordMD5()), "127.0.0.1")

	if s.registry.GetByToken(first.token) != nil {
		t.Error("stale session survived the relogin")
	}
	if s.registry.GetByToken(second.token) == nil {
		t.Error("replacement session not registered")
	}
}

func TestRestrictedLoginHidesArrival(t *testing.T) {
	s := setUpServer(t)
	observerAccount := seedAccount(t, s, "observer")
	restrictedAccount := seedAccount(t, s, "troubled")
	if err := data.UpdateAccountPrivileges(s.db, restrictedAccount.ID, 0); err != nil {
		t.Fatalf("error restricting account: %v", err)
	}

	observerResp := s.handleLogin(loginBody("observer", testPasswordMD5()), "127.0.0.1")
	observer := s.registry.GetByToken(observerResp.token)
	observer.Dequeue()

	resp := s.handleLogin(loginBody("troubled", testPasswordMD5()), "127.0.0.1")

	if code := userIDCode(t, decodeServerPackets(t, resp.body)); code != int32(restrictedAccount.ID) {
		t.Fatalf("restricted login code = %d, expected %d", code, restrictedAccount.ID)
	}
	if len(observer.Dequeue()) != 0 {
		t.Error("other sessions were told about a restricted arrival")
	}

	// The restricted player's bundle includes the bot but not the observer.
	packets := decodeServerPackets(t, resp.body)
	var presenceIDs []int32
	for _, packet := range packets {
		if packet.id != protocol.ServerUserPresence {
			continue
		}
		id, err := protocol.NewReader(packet.payload).ReadInt32()
		if err != nil {
			t.Fatalf("error reading presence payload: %v", err)
		}
		presenceIDs = append(presenceIDs, id)
	}
	for _, id := range presenceIDs {
		if uint64(id) == observerAccount.ID {
			t.Error("restricted player can see unrestricted sessions")
		}
	}
}

// statsRank pulls the global rank field out of a user stats payload.
func statsRank(t *testing.T, payload []byte) int32 {
	t.Helper()
	r := protocol.NewReader(payload)
	if _, err := r.ReadInt32(); err != nil { // user id
		t.Fatalf("error reading stats payload: %v", err)
	}
	r.ReadUint8()   // action
	r.ReadString()  // action info
	r.ReadString()  // map md5
	r.ReadInt32()   // mods
	r.ReadUint8()   // mode
	r.ReadInt32()   // map id
	r.ReadInt64()   // ranked score
	r.ReadFloat32() // accuracy
	r.ReadInt32()   // play count
	r.ReadInt64()   // total score
	rank, err := r.ReadInt32()
	if err != nil {
		t.Fatalf("error reading stats payload: %v", err)
	}
	return rank
}

func TestLoginResolvesRankFromLeaderboard(t *testing.T) {
	s := setUpServer(t)
	attachPresence(t, s)
	carryAccount := seedAccount(t, s, "carry")
	seedAccount(t, s, "filler")

	stats, err := data.FindOrCreateModeStats(s.db, carryAccount.ID, uint8(session.ModeOsu))
	if err != nil {
		t.Fatalf("error creating stats row: %v", err)
	}
	stats.PP = 727
	if err := s.db.Save(stats).Error; err != nil {
		t.Fatalf("error seeding pp: %v", err)
	}

	carryResp := s.handleLogin(loginBody("carry", testPasswordMD5()), "127.0.0.1")
	fillerResp := s.handleLogin(loginBody("filler", testPasswordMD5()), "127.0.0.1")
	carry := s.registry.GetByToken(carryResp.token)
	filler := s.registry.GetByToken(fillerResp.token)

	if rank := carry.GamemodeStats().Rank; rank != 1 {
		t.Errorf("carry rank = %d, expected 1", rank)
	}
	if rank := filler.GamemodeStats().Rank; rank != 2 {
		t.Errorf("filler rank = %d, expected 2", rank)
	}

	// The board position reaches the client inside the login bundle.
	statsPacket := findPacket(decodeServerPackets(t, carryResp.body), protocol.ServerUserStats)
	if statsPacket == nil {
		t.Fatal("bundle carries no user stats packet")
	}
	if rank := statsRank(t, statsPacket.payload); rank != 1 {
		t.Errorf("bundle rank = %d, expected 1", rank)
	}
}
