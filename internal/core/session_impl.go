package core

import "github.com/okonek/chorus/internal/domain"

// peerSession implements PeerSession by pairing user meta + transport.
type peerSession struct {
	user *domain.User
	conn SignalConnection
}

func NewPeerSession(user *domain.User, conn SignalConnection) PeerSession {
	return &peerSession{user: user, conn: conn}
}

func (s *peerSession) User() *domain.User       { return s.user }
func (s *peerSession) Signal() SignalConnection { return s.conn }
