package domain

import "time"

// Peer represents one connection's membership record inside a single room.
// No transport or lifecycle logic here.
type Peer struct {
	User     *User
	JoinedAt time.Time
	Mute     bool
}

// NewPeer avoids raw literals in adapters and keeps construction obvious.
func NewPeer(user *User) *Peer {
	return &Peer{User: user, JoinedAt: time.Now()}
}
