package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
)

// ClientDetails is the fingerprint block the client reports at login.
type ClientDetails struct {
	OsuVersion    OsuVersion
	PathMD5       string
	AdaptersMD5   string
	UninstallMD5  string
	DiskSignature string
	Adapters      []string
	IP            string
}

// OsuVersion is a parsed client version string (b20230101.2tourney).
type OsuVersion struct {
	Date     time.Time
	Revision int
	Stream   string
}

// PlayerOptions are the optional construction parameters for a Player.
// The zero value of every field is a sensible default.
type PlayerOptions struct {
	// Session token. Generated when left empty.
	Token string
	// Domain used to derive the player's profile and avatar URLs.
	Domain string

	UTCOffset   int8
	PMPrivate   bool
	Geolocation Geolocation

	ClientDetails *ClientDetails
	LoginTime     time.Time

	// Bot sessions discard queue writes and never expire.
	BotClient bool
	// Tournament clients reconnect without waiting out the relogin grace.
	TournamentClient bool
}

// Player is the authoritative mutable record of one connected session.
//
// All mutable fields are guarded by mu; exported snapshot methods take the
// lock so callers on other sessions' request goroutines get consistent reads.
type Player struct {
	ID       uint64
	Name     string
	SafeName string
	Domain   string

	BotClient        bool
	TournamentClient bool

	ClientDetails *ClientDetails
	LoginTime     time.Time

	mu sync.Mutex

	token      string
	privileges Privileges
	// Memoized client-facing bitset, recomputed after any privilege change.
	clientPrivileges      ClientPrivileges
	clientPrivilegesValid bool

	status         Status
	awayMessage    string
	pmPrivate      bool
	presenceFilter PresenceFilter
	geolocation    Geolocation
	utcOffset      int8

	silenceEnd      int64
	clanTag         string
	lastReceiveTime time.Time

	stats   map[GameMode]*data.ModeStats
	friends map[uint64]struct{}

	channels []*Channel
	// Spectator relationships are stored by id and resolved through the
	// registry, never as direct cross-references.
	spectatorIDs     []uint64
	spectatingID     uint64
	spectatorChannel *Channel
	matchID      int32
	inLobby      bool

	queue []byte
}

// NewPlayer constructs a Player from its persistent account record plus the
// parsed client metadata.
func NewPlayer(account *data.Account, opts PlayerOptions) *Player {
	token := opts.Token
	if token == "" {
		token = GenerateToken()
	}
	loginTime := opts.LoginTime
	if loginTime.IsZero() {
		loginTime = time.Now()
	}

	return &Player{
		ID:               account.ID,
		Name:             account.Name,
		SafeName:         data.SafeName(account.Name),
		Domain:           opts.Domain,
		BotClient:        opts.BotClient,
		TournamentClient: opts.TournamentClient,
		ClientDetails:    opts.ClientDetails,
		LoginTime:        loginTime,

		token:           token,
		privileges:      Privileges(account.Privileges),
		utcOffset:       opts.UTCOffset,
		pmPrivate:       opts.PMPrivate,
		geolocation:     opts.Geolocation,
		silenceEnd:      account.SilenceEnd,
		clanTag:         account.ClanTag,
		lastReceiveTime: loginTime,

		stats:   make(map[GameMode]*data.ModeStats),
		friends: make(map[uint64]struct{}),
	}
}

// GenerateToken returns a fresh session token.
func GenerateToken() string {
	return uuid.NewString()
}

func (p *Player) String() string {
	return fmt.Sprintf("<%s (id: %d)>", p.Name, p.ID)
}

// Token returns the session token. Empty means the player is offline.
func (p *Player) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// IsOnline reports whether the player holds a session token.
func (p *Player) IsOnline() bool {
	return p.Token() != ""
}

// Privileges returns the server-side privilege bitset.
func (p *Player) Privileges() Privileges {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.privileges
}

// ClientPrivileges returns the memoized client-facing privilege bitset.
func (p *Player) ClientPrivileges() ClientPrivileges {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.clientPrivilegesValid {
		p.clientPrivileges = p.privileges.Client()
		p.clientPrivilegesValid = true
	}
	return p.clientPrivileges
}

// IsRestricted reports whether the unrestricted bit is absent.
func (p *Player) IsRestricted() bool {
	return !p.Privileges().Has(PrivilegeUnrestricted)
}

// RemainingSilence returns the seconds left on the player's silence, or zero.
func (p *Player) RemainingSilence() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.silenceEnd - time.Now().Unix()
	if remaining < 0 {
		return 0
	}
	return int32(remaining)
}

// IsSilenced reports whether the player is currently muted.
func (p *Player) IsSilenced() bool {
	return p.RemainingSilence() != 0
}

// URL returns the player's profile URL.
func (p *Player) URL() string {
	return fmt.Sprintf("https://%s/u/%d", p.Domain, p.ID)
}

// AvatarURL returns the player's avatar URL.
func (p *Player) AvatarURL() string {
	return fmt.Sprintf("https://a.%s/%d", p.Domain, p.ID)
}

// FullName returns the display name prefixed with the clan tag when present.
func (p *Player) FullName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clanTag != "" {
		return fmt.Sprintf("[%s] %s", p.clanTag, p.Name)
	}
	return p.Name
}

// Status returns a copy of the live status snapshot.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetStatus replaces the live status snapshot.
func (p *Player) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// SetAwayMessage records the away message returned to private messages.
func (p *Player) SetAwayMessage(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awayMessage = msg
}

// AwayMessage returns the away message, or empty when unset.
func (p *Player) AwayMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.awayMessage
}

// SetPMPrivate toggles blocking of private messages from non-friends.
func (p *Player) SetPMPrivate(blocked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pmPrivate = blocked
}

// PMPrivate reports whether the player blocks PMs from non-friends.
func (p *Player) PMPrivate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pmPrivate
}

// SetPresenceFilter records which users the client wants to see.
func (p *Player) SetPresenceFilter(f PresenceFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presenceFilter = f
}

// TouchActivity stamps the time of the most recent request for this session.
func (p *Player) TouchActivity() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReceiveTime = time.Now()
}

// LastReceiveTime returns when this session last sent a request.
func (p *Player) LastReceiveTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReceiveTime
}

// SetStats installs the per-mode stats rows loaded from the database.
func (p *Player) SetStats(rows []data.ModeStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range rows {
		row := rows[i]
		p.stats[GameMode(row.Mode)] = &row
	}
}

// GamemodeStats returns the stats record for the player's current mode,
// creating an empty one if the mode has never been played.
func (p *Player) GamemodeStats() *data.ModeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	mode := p.status.Mode
	stats, ok := p.stats[mode]
	if !ok {
		stats = &data.ModeStats{AccountID: p.ID, Mode: uint8(mode)}
		p.stats[mode] = stats
	}
	return stats
}

// SetFriends replaces the friend id set.
func (p *Player) SetFriends(ids []int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.friends = make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		p.friends[uint64(id)] = struct{}{}
	}
}

// AddFriendID records a friend relationship in the live session.
func (p *Player) AddFriendID(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.friends[id] = struct{}{}
}

// RemoveFriendID removes a friend relationship from the live session.
func (p *Player) RemoveFriendID(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.friends, id)
}

// FriendIDs returns the friend ids in unspecified order.
func (p *Player) FriendIDs() []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int32, 0, len(p.friends))
	for id := range p.friends {
		ids = append(ids, int32(id))
	}
	return ids
}

// HasFriend reports whether the given id is in the player's friend set.
func (p *Player) HasFriend(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.friends[id]
	return ok
}

// SetInLobby tracks whether the client is sitting in the multiplayer lobby.
func (p *Player) SetInLobby(inLobby bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inLobby = inLobby
}

// Enqueue appends data to the player's outbound queue. Bot sessions discard
// writes since there is no client behind them to drain the queue.
func (p *Player) Enqueue(data []byte) {
	if p.BotClient {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, data...)
}

// Dequeue drains and returns the outbound queue.
func (p *Player) Dequeue() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	queued := p.queue
	p.queue = nil
	return queued
}

// Geolocation returns the coordinate/country info reported for presence.
func (p *Player) Geolocation() Geolocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geolocation
}

// UTCOffset returns the client's reported timezone offset.
func (p *Player) UTCOffset() int8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.utcOffset
}

// StatsInfo assembles the user stats packet fields for this player.
func (p *Player) StatsInfo() protocol.UserStatsInfo {
	stats := p.GamemodeStats()

	p.mu.Lock()
	defer p.mu.Unlock()

	// The in-game pp field is an int16; past its ceiling the client renders
	// pp in the ranked score slot instead.
	const ingamePPLimit = 0x7fff
	rankedScore := stats.RankedScore
	pp := stats.PP
	if pp > ingamePPLimit {
		rankedScore = int64(pp)
		pp = 0
	}

	return protocol.UserStatsInfo{
		ID:          int32(p.ID),
		Action:      uint8(p.status.Action),
		ActionInfo:  p.status.ActionInfo,
		MapMD5:      p.status.MapMD5,
		Mods:        p.status.Mods,
		Mode:        p.status.Mode.Vanilla(),
		MapID:       p.status.MapID,
		RankedScore: rankedScore,
		Accuracy:    stats.Accuracy / 100.0,
		PlayCount:   stats.PlayCount,
		TotalScore:  stats.TotalScore,
		Rank:        stats.Rank,
		PP:          int16(pp),
	}
}

// PresenceInfo assembles the user presence packet fields for this player.
func (p *Player) PresenceInfo() protocol.UserPresenceInfo {
	clientPrivileges := p.ClientPrivileges()
	stats := p.GamemodeStats()

	p.mu.Lock()
	defer p.mu.Unlock()

	return protocol.UserPresenceInfo{
		ID:          int32(p.ID),
		Name:        p.Name,
		UTCOffset:   p.utcOffset,
		CountryCode: p.geolocation.CountryCode,
		Privileges:  uint8(clientPrivileges) | p.status.Mode.Vanilla()<<5,
		Longitude:   p.geolocation.Longitude,
		Latitude:    p.geolocation.Latitude,
		Rank:        stats.Rank,
	}
}

// SetPrivileges replaces the privilege bitset, persisting it before mutating
// the in-memory state so a storage failure leaves the session untouched.
func (p *Player) SetPrivileges(db *gorm.DB, privileges Privileges) error {
	if err := data.UpdateAccountPrivileges(db, p.ID, int(privileges)); err != nil {
		return fmt.Errorf("persisting privileges for %s: %w", p, err)
	}

	p.mu.Lock()
	p.privileges = privileges
	p.clientPrivilegesValid = false
	p.mu.Unlock()
	return nil
}

// AddPrivileges grants the given bits, persists the result, and pushes the
// updated client bitset to the session if it is online.
func (p *Player) AddPrivileges(db *gorm.DB, bits Privileges) error {
	if err := p.SetPrivileges(db, p.Privileges()|bits); err != nil {
		return err
	}
	if p.IsOnline() {
		p.Enqueue(protocol.BanchoPrivileges(int32(p.ClientPrivileges())))
	}
	return nil
}

// RemovePrivileges revokes the given bits, persists the result, and pushes
// the updated client bitset to the session if it is online.
func (p *Player) RemovePrivileges(db *gorm.DB, bits Privileges) error {
	if err := p.SetPrivileges(db, p.Privileges()&^bits); err != nil {
		return err
	}
	if p.IsOnline() {
		p.Enqueue(protocol.BanchoPrivileges(int32(p.ClientPrivileges())))
	}
	return nil
}

// Restrict removes the player from public-facing features: the unrestricted
// bit is revoked, the action is audit logged, and an online session is
// logged out so the client reconnects into the restricted state.
func (p *Player) Restrict(db *gorm.DB, registry *Registry, logger *zap.SugaredLogger, actor *Player, reason string) error {
	if err := p.RemovePrivileges(db, PrivilegeUnrestricted); err != nil {
		return err
	}
	if err := data.InsertAuditLog(db, actor.ID, p.ID, "restrict", reason); err != nil {
		logger.Warnf("logging restriction of %s: %v", p, err)
	}

	logger.Warnf("%s got restricted by %s for: %s", p, actor, reason)

	if p.IsOnline() {
		p.Logout(registry, logger)
	}
	return nil
}

// Silence mutes the player until the given UNIX timestamp.
func (p *Player) Silence(until int64) {
	p.mu.Lock()
	p.silenceEnd = until
	p.mu.Unlock()
}

// Logout tears the session down: the token is cleared, any match and
// spectator relationships are detached, every joined channel is left in
// order, and the session is removed from the registry. Unrestricted players
// are announced as logged out to everyone else.
func (p *Player) Logout(registry *Registry, logger *zap.SugaredLogger) {
	p.mu.Lock()
	p.token = ""
	matchID := p.matchID
	spectatingID := p.spectatingID
	p.mu.Unlock()

	if matchID != 0 {
		p.LeaveMatch()
	}

	if spectatingID != 0 {
		if host := registry.GetByID(spectatingID); host != nil {
			host.RemoveSpectator(registry, p)
		}
	}

	for _, spectator := range p.Spectators(registry) {
		p.RemoveSpectator(registry, spectator)
	}

	for {
		p.mu.Lock()
		if len(p.channels) == 0 {
			p.mu.Unlock()
			break
		}
		channel := p.channels[0]
		p.mu.Unlock()
		p.LeaveChannel(channel, registry, false)
	}

	registry.Remove(p)

	if !p.IsRestricted() {
		registry.Broadcast(protocol.UserLogout(int32(p.ID)), p)
	}

	logger.Infof("%s logged out", p)
}
