// Package callcontrol defines the boundary between the bridge and the PBX's
// call-control surface. It is intentionally thin: the bridge only needs to
// create a bridge and an external-media channel carrying its session ID,
// answer and join that channel, and tear the bridge down again — it never
// negotiates codecs, routes dialplan, or otherwise acts as a PBX client
// beyond what one call's external-media leg requires.
package callcontrol

import "context"

// Channel identifies one leg of a call on the PBX side.
type Channel struct {
	ID string
	SessionID string
}

// Bridge identifies a PBX-side mixing bridge joining two or more channels.
type Bridge struct {
	ID string
}

// EventKind enumerates the PBX events the bridge reacts to. Everything
// else on the call-control channel (dialplan execution, other channels'
// state) is out of scope.
type EventKind string

const (
	EventChannelArrived EventKind = "channel-arrived"
	EventChannelEnded EventKind = "channel-ended"
)

// Event is one notification from the PBX's call-control channel.
type Event struct {
	Kind EventKind
	ChannelID string
	SessionID string
}

// Controller is the adapter surface the orchestrator drives a call
// through. Implementations talk to whatever PBX control API is actually
// in front of the bridge (e.g. an Asterisk ARI-style REST interface);
// this package does not assume one.
type Controller interface {
	CreateBridge(ctx context.Context) (Bridge, error)
	CreateExternalMediaChannel(ctx context.Context, sessionID, mediaHost string, mediaPort int) (Channel, error)
	AnswerChannel(ctx context.Context, channel Channel) error
	AddChannelToBridge(ctx context.Context, bridge Bridge, channel Channel) error
	HangupChannel(ctx context.Context, channel Channel) error
	DeleteBridge(ctx context.Context, bridge Bridge) error

	// Events returns the channel the orchestrator reads PBX-side
	// notifications from. Implementations own its lifecycle; it is
	// closed when the Controller is closed.
	Events() <-chan Event
	Close() error
}
