package model

import (
	"slices"
	"time"
)

// DialogType classifies a conversation.
type DialogType string

const (
	DialogPublic  DialogType = "public"
	DialogGroup   DialogType = "group"
	DialogPrivate DialogType = "private"
)

// LastMessage is the summary of a dialog's most recent message.
type LastMessage struct {
	ID       string
	Text     string
	SentAt   time.Time
	SenderID string
}

// Dialog is a conversation as held in the local cache. Messages is a
// bounded window of recently seen messages ordered by sent time ascending,
// not full history.
type Dialog struct {
	ID             string
	Type           DialogType
	Name           string
	Photo          string
	ParticipantIDs []string
	OwnerID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastMessage    LastMessage
	UnreadCount    int
	IsOwned        bool
	Messages       []Message
}

// HasParticipant reports whether id is in the participant set.
func (d *Dialog) HasParticipant(id string) bool {
	return slices.Contains(d.ParticipantIDs, id)
}

// RemoveParticipant deletes id from the participant set. Returns true if
// the set changed.
func (d *Dialog) RemoveParticipant(id string) bool {
	i := slices.Index(d.ParticipantIDs, id)
	if i < 0 {
		return false
	}
	d.ParticipantIDs = slices.Delete(d.ParticipantIDs, i, i+1)
	return true
}

// FindMessage returns a pointer into the message window, or nil.
func (d *Dialog) FindMessage(id string) *Message {
	for i := range d.Messages {
		if d.Messages[i].ID == id {
			return &d.Messages[i]
		}
	}
	return nil
}

// InsertMessage merges m into the window keeping sent-time-ascending order.
// A message already present by id is replaced in place. Returns true if the
// window changed.
func (d *Dialog) InsertMessage(m Message) bool {
	if existing := d.FindMessage(m.ID); existing != nil {
		if existing.Equal(m) {
			return false
		}
		*existing = m
		return true
	}
	i, _ := slices.BinarySearchFunc(d.Messages, m, func(a, b Message) int {
		return a.SentAt.Compare(b.SentAt)
	})
	d.Messages = slices.Insert(d.Messages, i, m)
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d Dialog) Clone() Dialog {
	out := d
	out.ParticipantIDs = slices.Clone(d.ParticipantIDs)
	out.Messages = make([]Message, len(d.Messages))
	for i, m := range d.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}
