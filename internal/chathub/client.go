package chathub

import "chatcore/backend/internal/models"

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outbound is one frame queued for a connection.
type Outbound struct {
	// Group is the broadcast group the frame arrived through, empty for direct frames.
	Group   string
	Payload []byte
	Header  models.EventHeader
}

// Client is a live connection as seen by the Hub. The Hub is the only writer to
// the send channel and the only caller of Close.
type Client interface {
	// ID identifies the connection. A user may hold several.
	ID() string
	UserID() string
	// RoomID is the room the connection is bound to, 0 for presence-only connections.
	RoomID() uint
	// Groups lists the broadcast groups the connection subscribes to.
	Groups() []string

	// GetSendChannel returns the channel the Hub pushes group frames into.
	GetSendChannel() chan<- Outbound

	// Close stops the write side after the Hub has dropped the client.
	Close()
}

// groupsFor returns the groups of a connection: the personal group, plus the room
// group for room connections.
func groupsFor(userID string, roomID uint) []string {
	groups := []string{models.UserGroup(userID)}
	if roomID != 0 {
		groups = append(groups, models.RoomGroup(roomID))
	}
	return groups
}
