package domain

type Channel string

const (
	CHANNEL_COMMAND    Channel = "command"
	CHANNEL_APPLIANCES Channel = "appliances"
)

// StreamEvent is a change notification delivered by a cloud subscription.
type StreamEvent struct {
	// Path is relative to the subscribed node; empty for the node itself.
	Path  string
	Value string
	// Snapshot marks values that already existed when the subscription was
	// armed, as opposed to live writes.
	Snapshot bool
}
