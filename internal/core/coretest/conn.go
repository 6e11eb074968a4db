package coretest

import (
	"sync"

	"github.com/okonek/chorus/internal/core"
	"github.com/okonek/chorus/internal/domain"
)

// Conn is an in-memory SignalConnection capturing every frame sent to it.
type Conn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make(core.Frame, len(f))
	copy(buf, f)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// NewSession builds a peer session around a capturing connection.
func NewSession(sid core.SessionID, displayName string) (core.PeerSession, *Conn) {
	conn := &Conn{}
	user := &domain.User{ID: domain.UserID(sid), DisplayName: displayName, Role: domain.RoleMember}
	return core.NewPeerSession(user, conn), conn
}
