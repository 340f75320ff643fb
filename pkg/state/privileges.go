package state

// Privilege is an ordered permission level resolved from the auth token.
// Values mirror the site's user roles; gaps leave room for new roles.
type Privilege int

const (
	PBanned    Privilege = 0
	PGuest     Privilege = 1
	PUser      Privilege = 10
	PModerator Privilege = 50
	PAdmin     Privilege = 100
)

// Banned reports whether the level is locked out of all interaction. Banned
// identities may still connect and observe.
func (p Privilege) Banned() bool {
	return p <= PBanned
}

// Moderator reports whether the level grants moderation actions
// (purging messages, changing chat status).
func (p Privilege) Moderator() bool {
	return p >= PModerator
}

// CanSend reports whether the level may author chat messages at all.
// Guests never gain send rights regardless of chat status.
func (p Privilege) CanSend() bool {
	return p >= PUser
}
