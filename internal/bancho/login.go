package bancho

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
	"github.com/dzifors/nova/internal/session"
)

// Rejected logins carry a sentinel in the cho-token header instead of a
// session token, paired with a negative user id packet in the body.
const (
	tokenInvalidRequest    = "invalid-request"
	tokenEmptyAdapters     = "empty-adapters"
	tokenIncorrectPassword = "incorrect-password"
	tokenAlreadyLoggedIn   = "user-already-logged-in"
)

var osuVersionPattern = regexp.MustCompile(`^b(\d{8})(?:\.(\d))?(beta|cuttingedge|dev|tourney)?$`)

type loginResponse struct {
	token string
	body  []byte
}

func rejectLogin(token string, code int32, notification string) loginResponse {
	body := protocol.UserID(code)
	if notification != "" {
		body = append(body, protocol.Notification(notification)...)
	}
	return loginResponse{token: token, body: body}
}

type loginForm struct {
	username     string
	passwordMD5  string
	version      session.OsuVersion
	utcOffset    int8
	displayCity  bool
	pmPrivate    bool
	pathMD5      string
	adapters     []string
	adaptersMD5  string
	uninstallMD5 string
	diskSig      string
	runningWine  bool
}

// parseLoginForm decodes the three-line login request body:
//
//	username\npassword_md5\nversion|utc_offset|display_city|hash_block|pm_private\n
//
// where hash_block is five colon-terminated fields of client hardware hashes.
func parseLoginForm(body []byte) (*loginForm, error) {
	lines := strings.Split(string(body), "\n")
	if len(lines) != 4 || lines[3] != "" {
		return nil, fmt.Errorf("expected 3 newline-terminated lines, got %d", len(lines)-1)
	}

	form := &loginForm{
		username:    lines[0],
		passwordMD5: lines[1],
	}
	if len(form.passwordMD5) != 32 {
		return nil, fmt.Errorf("password hash has length %d, expected 32", len(form.passwordMD5))
	}

	fields := strings.Split(lines[2], "|")
	if len(fields) != 5 {
		return nil, fmt.Errorf("client info has %d fields, expected 5", len(fields))
	}

	version, err := parseOsuVersion(fields[0])
	if err != nil {
		return nil, err
	}
	form.version = version

	offset, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("parsing utc offset: %w", err)
	}
	form.utcOffset = int8(offset)
	form.displayCity = fields[2] == "1"
	form.pmPrivate = fields[4] == "1"

	hashes := strings.Split(fields[3], ":")
	// The hash block ends with a trailing colon, making six segments.
	if len(hashes) != 6 || hashes[5] != "" {
		return nil, fmt.Errorf("hash block has %d segments, expected 6", len(hashes))
	}
	form.pathMD5 = hashes[0]
	form.runningWine = hashes[1] == "runningunderwine"
	if !form.runningWine {
		form.adapters = splitNonEmpty(hashes[1], ".")
	}
	form.adaptersMD5 = hashes[2]
	form.uninstallMD5 = hashes[3]
	form.diskSig = hashes[4]

	return form, nil
}

func parseOsuVersion(s string) (session.OsuVersion, error) {
	match := osuVersionPattern.FindStringSubmatch(s)
	if match == nil {
		return session.OsuVersion{}, fmt.Errorf("unparseable client version %q", s)
	}

	date, err := time.Parse("20060102", match[1])
	if err != nil {
		return session.OsuVersion{}, fmt.Errorf("parsing client version date: %w", err)
	}

	version := session.OsuVersion{Date: date, Stream: match[3]}
	if match[2] != "" {
		version.Revision, _ = strconv.Atoi(match[2])
	}
	if version.Stream == "" {
		version.Stream = "stable"
	}
	return version, nil
}

func splitNonEmpty(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// handleLogin runs the login sequence: parse the request, authenticate the
// account, resolve session conflicts, then construct the Player and assemble
// the welcome bundle. Any failure before Player construction leaves no
// session state behind.
func (s *Server) handleLogin(body []byte, ip string) loginResponse {
	ctx := context.Background()

	form, err := parseLoginForm(body)
	if err != nil {
		s.logger.Debugf("rejecting malformed login request: %v", err)
		return rejectLogin(tokenInvalidRequest, protocol.LoginFailed, "")
	}

	if len(form.adapters) == 0 && !form.runningWine {
		return rejectLogin(tokenEmptyAdapters, protocol.LoginFailed,
			"Please restart your client and try again.")
	}

	tournamentClient := form.version.Stream == "tourney"

	if existing := s.registry.GetByName(form.username); existing != nil && !existing.BotClient {
		// Tournament clients reconnect freely; everyone else inside the
		// grace window is assumed to still be connected.
		if !tournamentClient {
			grace := time.Duration(s.config.Login.ReloginGraceSeconds) * time.Second
			if time.Since(existing.LastReceiveTime()) < grace {
				return rejectLogin(tokenAlreadyLoggedIn, protocol.LoginFailed, "User already logged in.")
			}
		}
		// The old session went quiet or yielded. Evict it in favor of the
		// new one.
		s.setOffline(ctx, existing)
		existing.Logout(s.registry, s.logger)
	}

	account, err := data.FindAccountByName(s.db, form.username)
	if err != nil {
		s.logger.Errorf("looking up account %q: %v", form.username, err)
		return rejectLogin(tokenInvalidRequest, protocol.LoginError, "")
	}
	if account == nil {
		return rejectLogin(tokenIncorrectPassword, protocol.LoginFailed, "Incorrect username or password.")
	}

	if !s.verifyPassword(account.PasswordBcrypt, form.passwordMD5) {
		return rejectLogin(tokenIncorrectPassword, protocol.LoginFailed, "Incorrect username or password.")
	}

	p := session.NewPlayer(account, session.PlayerOptions{
		Domain:    s.config.Domain,
		UTCOffset: form.utcOffset,
		PMPrivate: form.pmPrivate,
		ClientDetails: &session.ClientDetails{
			OsuVersion:    form.version,
			PathMD5:       form.pathMD5,
			AdaptersMD5:   form.adaptersMD5,
			UninstallMD5:  form.uninstallMD5,
			DiskSignature: form.diskSig,
			Adapters:      form.adapters,
			IP:            ip,
		},
		TournamentClient: tournamentClient,
	})

	if err := s.hydratePlayer(p, account); err != nil {
		s.logger.Errorf("hydrating session for %s: %v", p, err)
		return rejectLogin(tokenInvalidRequest, protocol.LoginError, "")
	}

	if err := data.UpdateAccountActivity(s.db, account.ID); err != nil {
		s.logger.Warnf("stamping activity for %s: %v", p, err)
	}

	s.registry.Add(p)
	s.setOnline(ctx, p)

	welcome := s.assembleWelcomeBundle(p)

	s.logger.Infof("%s logged in from %s with client %s", p, ip, form.version.Stream)
	return loginResponse{token: p.Token(), body: welcome}
}

// verifyPassword compares the client's md5 digest against the stored bcrypt
// hash, memoizing successes since clients re-send identical credentials on
// every reconnect.
func (s *Server) verifyPassword(storedBcrypt, passwordMD5 string) bool {
	cacheKey := storedBcrypt + ":" + passwordMD5
	if _, ok := s.credentialCache.Get(cacheKey); ok {
		return true
	}
	if bcrypt.CompareHashAndPassword([]byte(storedBcrypt), []byte(passwordMD5)) != nil {
		return false
	}
	s.credentialCache.SetDefault(cacheKey, struct{}{})
	return true
}

// hydratePlayer loads the session's persistent companions: per-mode stats
// and the friend list.
func (s *Server) hydratePlayer(p *session.Player, account *data.Account) error {
	if _, err := data.FindOrCreateModeStats(s.db, account.ID, uint8(session.ModeOsu)); err != nil {
		return err
	}
	stats, err := data.FindModeStats(s.db, account.ID)
	if err != nil {
		return err
	}
	p.SetStats(stats)

	friends, err := data.FindFriendIDs(s.db, account.ID)
	if err != nil {
		return err
	}
	p.SetFriends(friends)
	// The bot is everyone's friend.
	p.AddFriendID(uint64(s.config.Bot.ID))
	return nil
}

// assembleWelcomeBundle builds the login success response: protocol
// handshake, channel listing with auto-joins, the player's own presence, the
// friend list, and the presence of everyone already online. Everyone online
// is in turn told about the new arrival unless it is restricted.
func (s *Server) assembleWelcomeBundle(p *session.Player) []byte {
	var body []byte
	body = append(body, protocol.ProtocolVersion(protocol.Version)...)
	body = append(body, protocol.UserID(int32(p.ID))...)
	body = append(body, protocol.BanchoPrivileges(int32(p.ClientPrivileges()))...)

	if msg := s.config.Login.WelcomeMessage; msg != "" {
		body = append(body, protocol.Notification(msg)...)
	}

	if p.IsRestricted() {
		body = append(body, protocol.Notification(
			"Your account is currently restricted: your profile is hidden from other players.")...)
	}

	if remaining := p.RemainingSilence(); remaining > 0 {
		body = append(body, protocol.SilenceEnd(remaining)...)
	}

	privileges := p.Privileges()
	for _, c := range s.channels {
		if !c.CanRead(privileges) {
			continue
		}
		if c.AutoJoin {
			p.JoinChannel(c, s.registry)
		}
		body = append(body, protocol.ChannelInfo(c.Info())...)
	}
	body = append(body, protocol.ChannelInfoEnd()...)

	body = append(body, protocol.UserPresence(p.PresenceInfo())...)
	body = append(body, protocol.UserStats(p.StatsInfo())...)
	body = append(body, protocol.FriendsList(p.FriendIDs())...)

	restricted := p.IsRestricted()
	arrival := append(
		protocol.UserPresence(p.PresenceInfo()),
		protocol.UserStats(p.StatsInfo())...,
	)
	for _, other := range s.registry.Snapshot() {
		if other == p {
			continue
		}
		// Restricted players see only themselves and the bot; their own
		// arrival is visible to staff alone.
		if !other.IsRestricted() && (!restricted || other.BotClient) {
			body = append(body, protocol.UserPresence(other.PresenceInfo())...)
			body = append(body, protocol.UserStats(other.StatsInfo())...)
		}
		if !restricted || other.Privileges().Has(session.PrivilegeStaff) {
			other.Enqueue(arrival)
		}
	}

	// Channel joins during assembly landed in the queue. Fold them in.
	return append(body, p.Dequeue()...)
}
