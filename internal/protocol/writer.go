package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache for encoded packets whose bytes are a pure function of their input
// (pong, channel join acks, per-id logout markers...). Packets derived from
// live per-player state must never go through this.
var packetCache = gocache.New(time.Hour, 10*time.Minute)

// cached pins a packet with a fixed, small key domain for the life of the
// process.
func cached(key string, build func() []byte) []byte {
	if pkt, found := packetCache.Get(key); found {
		return pkt.([]byte)
	}
	pkt := build()
	packetCache.Set(key, pkt, gocache.NoExpiration)
	return pkt
}

// cachedTransient memoizes packets keyed on high-cardinality subjects such as
// user ids. Entries take the cache's default lifetime, so the cache tracks
// the active population instead of every id ever seen.
func cachedTransient(key string, build func() []byte) []byte {
	if pkt, found := packetCache.Get(key); found {
		return pkt.([]byte)
	}
	pkt := build()
	packetCache.SetDefault(key, pkt)
	return pkt
}

// packet assembles a complete wire packet: type id, padding byte, payload
// length and payload.
func packet(id ServerPacketID, payload []byte) []byte {
	pkt := make([]byte, 0, headerLength+len(payload))
	pkt = binary.LittleEndian.AppendUint16(pkt, uint16(id))
	pkt = append(pkt, 0)
	pkt = binary.LittleEndian.AppendUint32(pkt, uint32(len(payload)))
	return append(pkt, payload...)
}

func appendUint16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func appendInt16(b []byte, v int16) []byte {
	return binary.LittleEndian.AppendUint16(b, uint16(v))
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendInt32(b []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}

func appendUint64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

func appendInt64(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(b, uint64(v))
}

func appendFloat32(b []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}

func appendFloat64(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// AppendUleb128 encodes v as a variable-length unsigned integer.
func AppendUleb128(b []byte, v uint64) []byte {
	if v == 0 {
		return append(b, 0)
	}
	for v != 0 {
		digit := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			digit |= 0x80
		}
		b = append(b, digit)
	}
	return b
}

// AppendString encodes s with a presence byte and a ULEB128 length prefix.
// The empty string encodes to the single absence byte.
func AppendString(b []byte, s string) []byte {
	if s == "" {
		return append(b, 0)
	}
	b = append(b, stringPresent)
	b = AppendUleb128(b, uint64(len(s)))
	return append(b, s...)
}

func appendMessage(b []byte, m Message) []byte {
	b = AppendString(b, m.Sender)
	b = AppendString(b, m.Text)
	b = AppendString(b, m.Recipient)
	return appendInt32(b, m.SenderID)
}

func appendChannel(b []byte, c Channel) []byte {
	b = AppendString(b, c.Name)
	b = AppendString(b, c.Topic)
	return appendUint16(b, uint16(c.Players))
}

func appendScoreFrame(b []byte, f ScoreFrame) []byte {
	b = appendInt32(b, f.Time)
	b = append(b, f.ID)
	b = appendUint16(b, f.Count300)
	b = appendUint16(b, f.Count100)
	b = appendUint16(b, f.Count50)
	b = appendUint16(b, f.CountGeki)
	b = appendUint16(b, f.CountKatu)
	b = appendUint16(b, f.CountMiss)
	b = appendInt32(b, f.TotalScore)
	b = appendUint16(b, f.CurrentCombo)
	b = appendUint16(b, f.MaxCombo)
	b = appendBool(b, f.Perfect)
	b = append(b, f.CurrentHP, f.TagByte)
	b = appendBool(b, f.ScoreV2)
	if f.ScoreV2 {
		b = appendFloat64(b, f.ComboPortion)
		b = appendFloat64(b, f.BonusPortion)
	}
	return b
}

func appendInt32ListInt16Length(b []byte, list []int32) []byte {
	b = appendUint16(b, uint16(len(list)))
	for _, v := range list {
		b = appendInt32(b, v)
	}
	return b
}

// UserID writes packet 5. A non-negative value is a successful login carrying
// the player's id; negative values are the rejection codes defined in types.go.
func UserID(id int32) []byte {
	return cachedTransient(fmt.Sprintf("user_id:%d", id), func() []byte {
		return packet(ServerUserID, appendInt32(nil, id))
	})
}

// SendMessage writes packet 7.
func SendMessage(m Message) []byte {
	return packet(ServerSendMessage, appendMessage(nil, m))
}

// Pong writes packet 8.
func Pong() []byte {
	return cached("pong", func() []byte {
		return packet(ServerPong, nil)
	})
}

// UserStatsInfo carries the fields serialized into a user stats packet.
type UserStatsInfo struct {
	ID          int32
	Action      uint8
	ActionInfo  string
	MapMD5      string
	Mods        int32
	Mode        uint8
	MapID       int32
	RankedScore int64
	// Accuracy as a fraction (0-1).
	Accuracy   float32
	PlayCount  int32
	TotalScore int64
	Rank       int32
	PP         int16
}

// UserStats writes packet 11. Never cached: the payload tracks live state.
func UserStats(s UserStatsInfo) []byte {
	b := appendInt32(nil, s.ID)
	b = append(b, s.Action)
	b = AppendString(b, s.ActionInfo)
	b = AppendString(b, s.MapMD5)
	b = appendInt32(b, s.Mods)
	b = append(b, s.Mode)
	b = appendInt32(b, s.MapID)
	b = appendInt64(b, s.RankedScore)
	b = appendFloat32(b, s.Accuracy)
	b = appendInt32(b, s.PlayCount)
	b = appendInt64(b, s.TotalScore)
	b = appendInt32(b, s.Rank)
	b = appendInt16(b, s.PP)
	return packet(ServerUserStats, b)
}

// UserLogout writes packet 12.
func UserLogout(userID int32) []byte {
	return cachedTransient(fmt.Sprintf("logout:%d", userID), func() []byte {
		b := appendInt32(nil, userID)
		b = append(b, 0)
		return packet(ServerUserLogout, b)
	})
}

// SpectatorJoined writes packet 13.
func SpectatorJoined(userID int32) []byte {
	return packet(ServerSpectatorJoined, appendInt32(nil, userID))
}

// SpectatorLeft writes packet 14.
func SpectatorLeft(userID int32) []byte {
	return packet(ServerSpectatorLeft, appendInt32(nil, userID))
}

// SpectateFrames writes packet 15, relaying an already-encoded frame bundle.
func SpectateFrames(raw []byte) []byte {
	return packet(ServerSpectateFrames, raw)
}

// VersionUpdate writes packet 19.
func VersionUpdate() []byte {
	return cached("version_update", func() []byte {
		return packet(ServerVersionUpdate, nil)
	})
}

// SpectatorCantSpectate writes packet 22.
func SpectatorCantSpectate(userID int32) []byte {
	return packet(ServerSpectatorCantSpectate, appendInt32(nil, userID))
}

// GetAttention writes packet 23.
func GetAttention() []byte {
	return cached("get_attention", func() []byte {
		return packet(ServerGetAttention, nil)
	})
}

// Notification writes packet 24.
func Notification(message string) []byte {
	return packet(ServerNotification, AppendString(nil, message))
}

// DisposeMatch writes packet 28.
func DisposeMatch(matchID int32) []byte {
	return packet(ServerDisposeMatch, appendInt32(nil, matchID))
}

// ToggleBlockNonFriendDMs writes packet 34.
func ToggleBlockNonFriendDMs() []byte {
	return cached("toggle_dm_block", func() []byte {
		return packet(ServerToggleBlockNonFriendPM, nil)
	})
}

// FellowSpectatorJoined writes packet 42.
func FellowSpectatorJoined(userID int32) []byte {
	return packet(ServerFellowSpectatorJoined, appendInt32(nil, userID))
}

// FellowSpectatorLeft writes packet 43.
func FellowSpectatorLeft(userID int32) []byte {
	return packet(ServerFellowSpectatorLeft, appendInt32(nil, userID))
}

// MatchScoreUpdate writes packet 48.
func MatchScoreUpdate(frame ScoreFrame) []byte {
	return packet(ServerMatchScoreUpdate, appendScoreFrame(nil, frame))
}

// MatchTransferHost writes packet 50.
func MatchTransferHost() []byte {
	return cached("match_transfer_host", func() []byte {
		return packet(ServerMatchTransferHost, nil)
	})
}

// MatchAllPlayersLoaded writes packet 53.
func MatchAllPlayersLoaded() []byte {
	return cached("match_all_players_loaded", func() []byte {
		return packet(ServerMatchAllPlayersLoaded, nil)
	})
}

// MatchPlayerFailed writes packet 57.
func MatchPlayerFailed(slotID int32) []byte {
	return packet(ServerMatchPlayerFailed, appendInt32(nil, slotID))
}

// MatchComplete writes packet 58.
func MatchComplete() []byte {
	return cached("match_complete", func() []byte {
		return packet(ServerMatchComplete, nil)
	})
}

// MatchSkip writes packet 61.
func MatchSkip() []byte {
	return cached("match_skip", func() []byte {
		return packet(ServerMatchSkip, nil)
	})
}

// ChannelJoinSuccess writes packet 64.
func ChannelJoinSuccess(name string) []byte {
	return cached("channel_join:"+name, func() []byte {
		return packet(ServerChannelJoinSuccess, AppendString(nil, name))
	})
}

// ChannelInfo writes packet 65. Not cached: the player count changes.
func ChannelInfo(c Channel) []byte {
	return packet(ServerChannelInfo, appendChannel(nil, c))
}

// ChannelKick writes packet 66.
func ChannelKick(name string) []byte {
	return cached("channel_kick:"+name, func() []byte {
		return packet(ServerChannelKick, AppendString(nil, name))
	})
}

// ChannelAutoJoin writes packet 67.
func ChannelAutoJoin(c Channel) []byte {
	return packet(ServerChannelAutoJoin, appendChannel(nil, c))
}

// BanchoPrivileges writes packet 71.
func BanchoPrivileges(privileges int32) []byte {
	return cachedTransient(fmt.Sprintf("privileges:%d", privileges), func() []byte {
		return packet(ServerPrivileges, appendInt32(nil, privileges))
	})
}

// FriendsList writes packet 72.
func FriendsList(friendIDs []int32) []byte {
	return packet(ServerFriendsList, appendInt32ListInt16Length(nil, friendIDs))
}

// ProtocolVersion writes packet 75.
func ProtocolVersion(version int32) []byte {
	return cached(fmt.Sprintf("protocol_version:%d", version), func() []byte {
		return packet(ServerProtocolVersion, appendInt32(nil, version))
	})
}

// MainMenuIcon writes packet 76.
func MainMenuIcon(iconURL, onClickURL string) []byte {
	return packet(ServerMainMenuIcon, AppendString(nil, iconURL+"|"+onClickURL))
}

// MatchPlayerSkipped writes packet 81.
func MatchPlayerSkipped(userID int32) []byte {
	return packet(ServerMatchPlayerSkipped, appendInt32(nil, userID))
}

// UserPresenceInfo carries the fields serialized into a user presence packet.
type UserPresenceInfo struct {
	ID   int32
	Name string
	// UTC offset with the wire's +24 bias already excluded; the encoder adds it.
	UTCOffset   int8
	CountryCode uint8
	// Client privilege bits, with the play mode packed into the top bits.
	Privileges uint8
	Longitude  float32
	Latitude   float32
	Rank       int32
}

// UserPresence writes packet 83. Never cached: the payload tracks live state.
func UserPresence(p UserPresenceInfo) []byte {
	b := appendInt32(nil, p.ID)
	b = AppendString(b, p.Name)
	b = append(b, uint8(int(p.UTCOffset)+24))
	b = append(b, p.CountryCode)
	b = append(b, p.Privileges)
	b = appendFloat32(b, p.Longitude)
	b = appendFloat32(b, p.Latitude)
	b = appendInt32(b, p.Rank)
	return packet(ServerUserPresence, b)
}

// RestartServer writes packet 86.
func RestartServer(milliseconds int32) []byte {
	return packet(ServerRestart, appendInt32(nil, milliseconds))
}

// MatchInvite writes packet 88.
func MatchInvite(m Message) []byte {
	return packet(ServerMatchInvite, appendMessage(nil, m))
}

// ChannelInfoEnd writes packet 89.
func ChannelInfoEnd() []byte {
	return cached("channel_info_end", func() []byte {
		return packet(ServerChannelInfoEnd, nil)
	})
}

// MatchChangePassword writes packet 91.
func MatchChangePassword(newPassword string) []byte {
	return packet(ServerMatchChangePassword, AppendString(nil, newPassword))
}

// SilenceEnd writes packet 92 carrying the remaining silence in seconds.
func SilenceEnd(delta int32) []byte {
	return packet(ServerSilenceEnd, appendInt32(nil, delta))
}

// UserSilenced writes packet 94.
func UserSilenced(userID int32) []byte {
	return packet(ServerUserSilenced, appendInt32(nil, userID))
}

// UserDMBlocked writes packet 100.
func UserDMBlocked(target string) []byte {
	return packet(ServerUserDMBlocked, appendMessage(nil, Message{Recipient: target}))
}

// TargetSilenced writes packet 101.
func TargetSilenced(target string) []byte {
	return packet(ServerTargetIsSilenced, appendMessage(nil, Message{Recipient: target}))
}

// VersionUpdateForced writes packet 102.
func VersionUpdateForced() []byte {
	return cached("version_update_forced", func() []byte {
		return packet(ServerVersionUpdateForced, nil)
	})
}

// SwitchServer writes packet 103.
func SwitchServer(timeout int32) []byte {
	return packet(ServerSwitchServer, appendInt32(nil, timeout))
}

// AccountRestricted writes packet 104.
func AccountRestricted() []byte {
	return cached("account_restricted", func() []byte {
		return packet(ServerAccountRestricted, nil)
	})
}

// MatchAbort writes packet 106.
func MatchAbort() []byte {
	return cached("match_abort", func() []byte {
		return packet(ServerMatchAbort, nil)
	})
}

// SwitchTournamentServer writes packet 107.
func SwitchTournamentServer(ip string) []byte {
	return packet(ServerSwitchTournamentServer, AppendString(nil, ip))
}
