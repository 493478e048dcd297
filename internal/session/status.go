package session

// Action is the client's current in-game activity.
type Action uint8

const (
	ActionIdle Action = iota
	ActionAfk
	ActionPlaying
	ActionEditing
	ActionModding
	ActionMultiplayer
	ActionWatching
	ActionUnknown
	ActionTesting
	ActionSubmitting
	ActionPaused
	ActionLobby
	ActionMultiplaying
	ActionOsuDirect
)

// GameMode is one of the playable modes, including the non-vanilla variants.
type GameMode uint8

const (
	ModeOsu GameMode = iota
	ModeTaiko
	ModeCatch
	ModeMania
	ModeRelaxOsu
	ModeRelaxTaiko
	ModeRelaxCatch
	ModeAutopilotOsu
)

// Vanilla collapses a mode to the four the client protocol understands.
func (m GameMode) Vanilla() uint8 {
	return uint8(m) % 4
}

// Status is the live activity snapshot of one session, mutated only by the
// owning session's own packets.
type Status struct {
	Action     Action
	ActionInfo string
	MapMD5     string
	Mods       int32
	Mode       GameMode
	MapID      int32
}

// PresenceFilter is the client-side scope of which users the player can see.
type PresenceFilter int32

const (
	PresenceFilterNil PresenceFilter = iota
	PresenceFilterAll
	PresenceFilterFriends
)

// Geolocation is the coordinate/country info broadcast in presence packets.
type Geolocation struct {
	Latitude    float32
	Longitude   float32
	Country     string
	CountryCode uint8
}
