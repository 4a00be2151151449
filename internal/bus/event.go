package bus

import "time"

// Event kinds published by the sync engine. Subscribers filter by prefix,
// so "dialog." matches every dialog notification.
const (
	KindSyncPhase         = "sync.phase"
	KindConnectionChanged = "session.connection_changed"
	KindDialogListChanged = "dialog.list_changed"
	KindDialogUpdated     = "dialog.updated"
	KindDialogTyping      = "dialog.typing"
	KindDialogStopTyping  = "dialog.stop_typing"
)

// Event is a domain notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
