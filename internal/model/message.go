package model

import (
	"slices"
	"time"
)

// MessageKind distinguishes ordinary chat messages from system messages
// and UI-only date dividers.
type MessageKind string

const (
	KindChat    MessageKind = "chat"
	KindEvent   MessageKind = "event"
	KindDivider MessageKind = "divider"
)

// EventKind is a message's event sub-kind.
type EventKind string

const (
	EventMessage   EventKind = "message"
	EventCreate    EventKind = "create"
	EventUpdate    EventKind = "update"
	EventLeave     EventKind = "leave"
	EventRemoved   EventKind = "removed"
	EventRead      EventKind = "read"
	EventDelivered EventKind = "delivered"
)

// Message is a chat message scoped to exactly one dialog. Delivered and
// Read are the current-user perspective derived from the id sets.
type Message struct {
	ID           string
	DialogID     string
	Text         string
	SenderID     string
	SentAt       time.Time
	DeliveredIDs []string
	ReadIDs      []string
	Delivered    bool
	Read         bool
	Kind         MessageKind
	Event        EventKind
	FileID       string
}

// IsDisplayable reports whether the message affects a dialog's last-message
// summary. Pure system and divider entries do not.
func (m *Message) IsDisplayable() bool {
	return m.Kind == KindChat || (m.Kind == KindEvent && m.Event == EventMessage)
}

// Equal compares all fields including the id sets.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.DialogID == o.DialogID &&
		m.Text == o.Text &&
		m.SenderID == o.SenderID &&
		m.SentAt.Equal(o.SentAt) &&
		m.Delivered == o.Delivered &&
		m.Read == o.Read &&
		m.Kind == o.Kind &&
		m.Event == o.Event &&
		m.FileID == o.FileID &&
		slices.Equal(m.DeliveredIDs, o.DeliveredIDs) &&
		slices.Equal(m.ReadIDs, o.ReadIDs)
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.DeliveredIDs = slices.Clone(m.DeliveredIDs)
	out.ReadIDs = slices.Clone(m.ReadIDs)
	return out
}

// Summary builds the last-message summary for this message.
func (m *Message) Summary() LastMessage {
	return LastMessage{ID: m.ID, Text: m.Text, SentAt: m.SentAt, SenderID: m.SenderID}
}
