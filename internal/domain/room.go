package domain

import "time"

type RoomID string

// RoomKind is a tagged variant: permanent rooms are addressed by an external
// channel id and survive with zero members, ephemeral rooms are created on
// demand and destroyed the moment the last member leaves.
type RoomKind int

const (
	RoomPermanent RoomKind = iota
	RoomEphemeral
)

func (k RoomKind) String() string {
	if k == RoomEphemeral {
		return "ephemeral"
	}
	return "permanent"
}

type Room struct {
	ID   RoomID
	Kind RoomKind
}

// EphemeralInfo carries the fields that only exist for ephemeral rooms.
type EphemeralInfo struct {
	ID          RoomID    `json:"id"`
	DisplayName string    `json:"displayName"`
	OwnerID     UserID    `json:"ownerId"`
	TextEnabled bool      `json:"textEnabled"`
	CreatedAt   time.Time `json:"createdAt"`
}
