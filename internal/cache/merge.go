package cache

import (
	"slices"
	"time"

	"github.com/quickblox/dialogsync/internal/model"
)

// DialogPatch is a partial dialog update. Empty fields mean "no change":
// the protocol cannot distinguish a deliberately cleared name or photo
// from one that was simply not sent, so clearing is not expressible here.
type DialogPatch struct {
	ID             string
	Type           model.DialogType
	Name           string
	Photo          string
	ParticipantIDs []string
	OwnerID        string
	UpdatedAt      time.Time
	LastMessage    *model.LastMessage
	// UnreadCount replaces the counter wholesale when > 0.
	UnreadCount int
	// DecrementUnread drops the counter by exactly one ("user read one
	// message"). Mutually exclusive with UnreadCount.
	DecrementUnread bool
	// Messages are merged into the window by sent-time-ascending insertion.
	Messages []model.Message
}

// patchFromDialog converts a full remote dialog into a merge patch.
func patchFromDialog(d model.Dialog) DialogPatch {
	p := DialogPatch{
		ID:             d.ID,
		Type:           d.Type,
		Name:           d.Name,
		Photo:          d.Photo,
		ParticipantIDs: d.ParticipantIDs,
		OwnerID:        d.OwnerID,
		UpdatedAt:      d.UpdatedAt,
		UnreadCount:    d.UnreadCount,
		Messages:       d.Messages,
	}
	if d.LastMessage.ID != "" {
		lm := d.LastMessage
		p.LastMessage = &lm
	}
	return p
}

// applyPatch merges p into d field by field, non-empty wins. Returns
// whether anything changed; the caller reorders and notifies only then.
func applyPatch(d *model.Dialog, p DialogPatch) bool {
	changed := false

	if p.Type != "" && p.Type != d.Type {
		d.Type = p.Type
		changed = true
	}
	if p.Name != "" && p.Name != d.Name {
		d.Name = p.Name
		changed = true
	}
	if p.Photo != "" && p.Photo != d.Photo {
		d.Photo = p.Photo
		changed = true
	}
	if len(p.ParticipantIDs) > 0 && !slices.Equal(p.ParticipantIDs, d.ParticipantIDs) {
		d.ParticipantIDs = slices.Clone(p.ParticipantIDs)
		changed = true
	}
	if p.OwnerID != "" && p.OwnerID != d.OwnerID {
		d.OwnerID = p.OwnerID
		changed = true
	}
	if p.LastMessage != nil && *p.LastMessage != d.LastMessage {
		d.LastMessage = *p.LastMessage
		changed = true
	}

	switch {
	case p.DecrementUnread:
		if d.UnreadCount > 0 {
			d.UnreadCount--
			changed = true
		}
	case p.UnreadCount > 0 && p.UnreadCount != d.UnreadCount:
		d.UnreadCount = p.UnreadCount
		changed = true
	}

	for _, m := range p.Messages {
		if d.InsertMessage(m.Clone()) {
			changed = true
		}
	}

	if !p.UpdatedAt.IsZero() && !p.UpdatedAt.Equal(d.UpdatedAt) {
		d.UpdatedAt = p.UpdatedAt
		changed = true
	}

	return changed
}

// foldMessage merges an incoming message's summary into the dialog:
// unread accounting, last-message overwrite, and narrowing the window to
// the message itself (the window is a "most recent activity" view, not
// history). Pure system and divider messages have no display effect and
// are skipped entirely.
func foldMessage(d *model.Dialog, m model.Message, currentUserID string) bool {
	if !m.IsDisplayable() {
		return false
	}
	if d.LastMessage.ID != m.ID && m.SenderID != currentUserID {
		d.UnreadCount++
	}
	d.LastMessage = m.Summary()
	d.UpdatedAt = m.SentAt
	d.Messages = []model.Message{m.Clone()}
	return true
}
