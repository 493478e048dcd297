// Package protocol implements the bancho binary packet protocol spoken by the
// osu! client: a stream of discrete packets, each a 7 byte header (uint16 LE
// type id, one padding byte, uint32 LE payload length) followed by exactly
// payload-length bytes.
package protocol

// ClientPacketID identifies a packet sent by the game client.
type ClientPacketID uint16

const (
	ClientChangeAction                ClientPacketID = 0
	ClientSendPublicMessage           ClientPacketID = 1
	ClientLogout                      ClientPacketID = 2
	ClientRequestStatusUpdate         ClientPacketID = 3
	ClientPing                        ClientPacketID = 4
	ClientStartSpectating             ClientPacketID = 16
	ClientStopSpectating              ClientPacketID = 17
	ClientSpectateFrames              ClientPacketID = 18
	ClientErrorReport                 ClientPacketID = 20
	ClientCantSpectate                ClientPacketID = 21
	ClientSendPrivateMessage          ClientPacketID = 25
	ClientPartLobby                   ClientPacketID = 29
	ClientJoinLobby                   ClientPacketID = 30
	ClientCreateMatch                 ClientPacketID = 31
	ClientJoinMatch                   ClientPacketID = 32
	ClientPartMatch                   ClientPacketID = 33
	ClientMatchChangeSlot             ClientPacketID = 38
	ClientMatchReady                  ClientPacketID = 39
	ClientMatchLock                   ClientPacketID = 40
	ClientMatchChangeSettings         ClientPacketID = 41
	ClientMatchStart                  ClientPacketID = 44
	ClientMatchScoreUpdate            ClientPacketID = 47
	ClientMatchComplete               ClientPacketID = 49
	ClientMatchChangeMods             ClientPacketID = 51
	ClientMatchLoadComplete           ClientPacketID = 52
	ClientMatchNoBeatmap              ClientPacketID = 54
	ClientMatchNotReady               ClientPacketID = 55
	ClientMatchFailed                 ClientPacketID = 56
	ClientMatchHasBeatmap             ClientPacketID = 59
	ClientMatchSkipRequest            ClientPacketID = 60
	ClientChannelJoin                 ClientPacketID = 63
	ClientBeatmapInfoRequest          ClientPacketID = 68
	ClientMatchTransferHost           ClientPacketID = 70
	ClientFriendAdd                   ClientPacketID = 73
	ClientFriendRemove                ClientPacketID = 74
	ClientMatchChangeTeam             ClientPacketID = 77
	ClientChannelPart                 ClientPacketID = 78
	ClientReceiveUpdates              ClientPacketID = 79
	ClientSetAwayMessage              ClientPacketID = 82
	ClientIRCOnly                     ClientPacketID = 84
	ClientUserStatsRequest            ClientPacketID = 85
	ClientMatchInvite                 ClientPacketID = 87
	ClientMatchChangePassword         ClientPacketID = 90
	ClientTournamentMatchInfoRequest  ClientPacketID = 93
	ClientUserPresenceRequest         ClientPacketID = 97
	ClientUserPresenceRequestAll      ClientPacketID = 98
	ClientToggleBlockNonFriendDMs     ClientPacketID = 99
	ClientTournamentJoinMatchChannel  ClientPacketID = 108
	ClientTournamentLeaveMatchChannel ClientPacketID = 109
)

// ServerPacketID identifies a packet sent to the game client.
type ServerPacketID uint16

const (
	ServerUserID                 ServerPacketID = 5
	ServerSendMessage            ServerPacketID = 7
	ServerPong                   ServerPacketID = 8
	ServerHandleIRCQuit          ServerPacketID = 10
	ServerUserStats              ServerPacketID = 11
	ServerUserLogout             ServerPacketID = 12
	ServerSpectatorJoined        ServerPacketID = 13
	ServerSpectatorLeft          ServerPacketID = 14
	ServerSpectateFrames         ServerPacketID = 15
	ServerVersionUpdate          ServerPacketID = 19
	ServerSpectatorCantSpectate  ServerPacketID = 22
	ServerGetAttention           ServerPacketID = 23
	ServerNotification           ServerPacketID = 24
	ServerUpdateMatch            ServerPacketID = 26
	ServerNewMatch               ServerPacketID = 27
	ServerDisposeMatch           ServerPacketID = 28
	ServerToggleBlockNonFriendPM ServerPacketID = 34
	ServerMatchJoinSuccess       ServerPacketID = 36
	ServerMatchJoinFail          ServerPacketID = 37
	ServerFellowSpectatorJoined  ServerPacketID = 42
	ServerFellowSpectatorLeft    ServerPacketID = 43
	ServerAllPlayersLoaded       ServerPacketID = 45
	ServerMatchStart             ServerPacketID = 46
	ServerMatchScoreUpdate       ServerPacketID = 48
	ServerMatchTransferHost      ServerPacketID = 50
	ServerMatchAllPlayersLoaded  ServerPacketID = 53
	ServerMatchPlayerFailed      ServerPacketID = 57
	ServerMatchComplete          ServerPacketID = 58
	ServerMatchSkip              ServerPacketID = 61
	ServerChannelJoinSuccess     ServerPacketID = 64
	ServerChannelInfo            ServerPacketID = 65
	ServerChannelKick            ServerPacketID = 66
	ServerChannelAutoJoin        ServerPacketID = 67
	ServerBeatmapInfoReply       ServerPacketID = 69
	ServerPrivileges             ServerPacketID = 71
	ServerFriendsList            ServerPacketID = 72
	ServerProtocolVersion        ServerPacketID = 75
	ServerMainMenuIcon           ServerPacketID = 76
	ServerMatchPlayerSkipped     ServerPacketID = 81
	ServerUserPresence           ServerPacketID = 83
	ServerRestart                ServerPacketID = 86
	ServerMatchInvite            ServerPacketID = 88
	ServerChannelInfoEnd         ServerPacketID = 89
	ServerMatchChangePassword    ServerPacketID = 91
	ServerSilenceEnd             ServerPacketID = 92
	ServerUserSilenced           ServerPacketID = 94
	ServerUserPresenceSingle     ServerPacketID = 95
	ServerUserPresenceBundle     ServerPacketID = 96
	ServerUserDMBlocked          ServerPacketID = 100
	ServerTargetIsSilenced       ServerPacketID = 101
	ServerVersionUpdateForced    ServerPacketID = 102
	ServerSwitchServer           ServerPacketID = 103
	ServerAccountRestricted      ServerPacketID = 104
	ServerMatchAbort             ServerPacketID = 106
	ServerSwitchTournamentServer ServerPacketID = 107
)

// Version of the bancho protocol this server speaks.
const Version = 19

// Login reply codes carried in a user id packet. Anything non-negative is a
// real user id. Several of these are defined by the protocol but have no
// trigger condition in this server; they are kept for completeness.
const (
	LoginFailed               int32 = -1
	LoginOldClient            int32 = -2
	LoginBanned               int32 = -3
	LoginBanned2              int32 = -4
	LoginError                int32 = -5
	LoginNeedsSupporter       int32 = -6
	LoginPasswordReset        int32 = -7
	LoginRequiresVerification int32 = -8
)

const (
	headerLength = 7
	// First byte of an encoded string when a value is present. Any other
	// leading byte (conventionally 0x00) means the string is absent.
	stringPresent = 0x0b
)

// Message is a chat message payload.
type Message struct {
	Sender    string
	Text      string
	Recipient string
	SenderID  int32
}

// Channel is a chat channel descriptor payload.
type Channel struct {
	Name    string
	Topic   string
	Players int32
}

// ReplayAction describes what the spectated client is doing in a frame bundle.
type ReplayAction uint8

const (
	ReplayActionStandard ReplayAction = iota
	ReplayActionNewSong
	ReplayActionSkip
	ReplayActionCompletion
	ReplayActionFail
	ReplayActionPause
	ReplayActionUnpause
	ReplayActionSongSelect
	ReplayActionWatchingOther
)

// ScoreFrame is a point-in-time score snapshot. The fixed portion packs into
// 29 bytes; the two portion fields are only on the wire when ScoreV2 is set.
type ScoreFrame struct {
	Time         int32
	ID           uint8
	Count300     uint16
	Count100     uint16
	Count50      uint16
	CountGeki    uint16
	CountKatu    uint16
	CountMiss    uint16
	TotalScore   int32
	CurrentCombo uint16
	MaxCombo     uint16
	Perfect      bool
	CurrentHP    uint8
	TagByte      uint8

	ScoreV2      bool
	ComboPortion float64
	BonusPortion float64
}

// ReplayFrame is a single input frame relayed to spectators.
type ReplayFrame struct {
	ButtonState uint8
	TaikoByte   uint8
	X           float32
	Y           float32
	Time        int32
}

// ReplayFrameBundle is a batch of replay frames plus the score state at the
// time of capture. Raw retains the undecoded payload bytes so the bundle can
// be relayed to spectators without re-encoding.
type ReplayFrameBundle struct {
	Extra      int32
	Frames     []ReplayFrame
	Action     ReplayAction
	ScoreFrame ScoreFrame
	Sequence   uint16

	Raw []byte
}

// MultiplayerMatch is the dense match descriptor payload. SlotIDs carries one
// entry per slot whose status byte has any of bits 2-6 set, in slot order.
type MultiplayerMatch struct {
	ID         int16
	InProgress bool
	Powerplay  uint8
	Mods       int32
	Name       string
	Password   string

	MapName string
	MapID   int32
	MapMD5  string

	SlotStatuses [16]uint8
	SlotTeams    [16]uint8
	SlotIDs      []int32

	HostID       int32
	Mode         uint8
	WinCondition uint8
	TeamType     uint8

	Freemod  bool
	SlotMods []int32

	Seed int32
}

// slotHasPlayer reports whether a slot status byte indicates an occupied slot
// (any of bits 2-6 set), which is the condition for a slot id on the wire.
func slotHasPlayer(status uint8) bool {
	return status&0b01111100 != 0
}
