package domain

import "time"

// Session is the identity handed to the engine at construction.
// The engine never reads identity from ambient storage; a controller
// built without a session can only read.
type Session struct {
	UserID string
	// Lang is the user's preferred language, used as the translation
	// target when none is given explicitly.
	Lang string
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateJoined       ConnectionState = "joined"
	StateLeaving      ConnectionState = "leaving"
)

// PresenceSession is the controller-owned record of one room's
// membership on the realtime channel.
type PresenceSession struct {
	Room   string
	UserID string
	State  ConnectionState
}

// VoiceDraft is a locally captured, not-yet-published clip. It exists
// only between recording stop and discard or successful publish and is
// never persisted.
type VoiceDraft struct {
	LocalRef   string
	Audio      []byte
	CapturedAt time.Time
}
