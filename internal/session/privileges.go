// Package session holds the mutable state of connected players: the Player
// entity itself, the registry of online sessions, chat channels, and the
// privilege bitsets governing what a session may do.
package session

// Privileges is the server-side privilege bitset persisted with the account.
type Privileges int

const (
	// PrivilegeUnrestricted marks an unbanned player. Its absence is what the
	// rest of the server treats as "restricted".
	PrivilegeUnrestricted Privileges = 1 << 0
	// PrivilegeVerified is granted on the first in-game login.
	PrivilegeVerified Privileges = 1 << 1
	// PrivilegeWhitelisted bypasses low-ceiling anticheat measures.
	PrivilegeWhitelisted Privileges = 1 << 2

	PrivilegeSupporter Privileges = 1 << 4
	PrivilegePremium   Privileges = 1 << 5

	PrivilegeAlumni Privileges = 1 << 7

	PrivilegeTourneyManager Privileges = 1 << 10
	PrivilegeNominator      Privileges = 1 << 11
	PrivilegeModerator      Privileges = 1 << 12
	PrivilegeAdministrator  Privileges = 1 << 13
	PrivilegeOwner          Privileges = 1 << 14

	PrivilegeDonator = PrivilegeSupporter | PrivilegePremium
	PrivilegeStaff   = PrivilegeModerator | PrivilegeAdministrator | PrivilegeOwner
)

// Has reports whether any of the given bits are set.
func (p Privileges) Has(bits Privileges) bool {
	return p&bits != 0
}

// ClientPrivileges is the reduced privilege bitset shared with the game client.
type ClientPrivileges int32

const (
	ClientPrivilegePlayer     ClientPrivileges = 1 << 0
	ClientPrivilegeModerator  ClientPrivileges = 1 << 1
	ClientPrivilegeSupporter  ClientPrivileges = 1 << 2
	ClientPrivilegeOwner      ClientPrivileges = 1 << 3
	ClientPrivilegeDeveloper  ClientPrivileges = 1 << 4
	ClientPrivilegeTournament ClientPrivileges = 1 << 5
)

// Client derives the client-facing bitset from the server-side one.
func (p Privileges) Client() ClientPrivileges {
	var c ClientPrivileges
	if p.Has(PrivilegeUnrestricted) {
		c |= ClientPrivilegePlayer
	}
	if p.Has(PrivilegeDonator) {
		c |= ClientPrivilegeSupporter
	}
	if p.Has(PrivilegeModerator) {
		c |= ClientPrivilegeModerator
	}
	if p.Has(PrivilegeAdministrator) {
		c |= ClientPrivilegeDeveloper
	}
	if p.Has(PrivilegeOwner) {
		c |= ClientPrivilegeOwner
	}
	return c
}
