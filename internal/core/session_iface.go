package core

import "github.com/okonek/chorus/internal/domain"

// SessionID identifies one live connection. It doubles as the PeerID inside
// any room the connection joins.
type SessionID string

// PeerSession binds a domain.User and its signaling endpoint.
// This is what rooms store and presence fans out to.
type PeerSession interface {
	User() *domain.User
	Signal() SignalConnection
}

// PeerDTO is a read-only view for wire payloads (no transport fields).
type PeerDTO struct {
	PeerID      SessionID     `json:"peerId"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	Muted       bool          `json:"muted"`
}
