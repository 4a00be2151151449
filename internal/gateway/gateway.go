// Package gateway abstracts the chat backend: connection lifecycle,
// paginated queries, mutations, and the merged inbound event stream.
// The sync engine depends only on the Gateway interface; Client talks to
// the production backend over Socket.IO and gatewaytest.Fake serves tests.
package gateway

import (
	"context"

	"github.com/quickblox/dialogsync/internal/model"
)

// ConnState is the transport-level connection state reported by signals.
type ConnState string

const (
	StateUnauthorized ConnState = "unauthorized"
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Signal is a connection lifecycle notification.
type Signal struct {
	State ConnState
	Err   error
}

// Kind identifies an inbound real-time event.
type Kind string

const (
	EvDialogCreated    Kind = "dialog.created"
	EvDialogUpdated    Kind = "dialog.updated"
	EvDialogLeft       Kind = "dialog.left"
	EvDialogRemoved    Kind = "dialog.removed"
	EvParticipantLeft  Kind = "participant.left"
	EvNewMessage       Kind = "message.new"
	EvMessageRead      Kind = "message.read"
	EvMessageDelivered Kind = "message.delivered"
	EvTyping           Kind = "typing.start"
	EvStopTyping       Kind = "typing.stop"
)

// Event is one item of the merged inbound event stream. Fields are
// populated per kind: Message for message-bearing events, MessageID and
// DialogID for receipts, UserID and DialogID for typing.
type Event struct {
	Kind          Kind
	DialogID      string
	MessageID     string
	UserID        string
	ByCurrentUser bool
	Message       *model.Message
}

// DialogSpec describes a dialog to create or update. Empty fields are
// left unchanged on update.
type DialogSpec struct {
	ID             string
	Type           model.DialogType
	Name           string
	Photo          string
	ParticipantIDs []string
}

// MemberDeltas lists participant ids to add or remove on update.
type MemberDeltas struct {
	Add    []string
	Remove []string
}

// MessageSpec describes an outbound message.
type MessageSpec struct {
	ID       string
	DialogID string
	Text     string
	FileID   string
}

// DialogsPage is one page of the dialog listing. ParticipantIDs is the
// union of participant ids across the page's dialogs.
type DialogsPage struct {
	Dialogs        []model.Dialog
	ParticipantIDs []string
	Cursor         model.Cursor
}

// UsersPage is one page of a user lookup.
type UsersPage struct {
	Users  []model.User
	Cursor model.Cursor
}

// Gateway is the remote backend as seen by the sync engine.
type Gateway interface {
	// Connect starts the realtime connection. Progress and the final
	// outcome are reported on Signals.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down; a terminal disconnected
	// signal is emitted.
	Disconnect(ctx context.Context) error
	// CheckConnection returns the current connection snapshot.
	CheckConnection(ctx context.Context) Signal

	// GetDialogs returns one page ordered most-recently-updated-first.
	GetDialogs(ctx context.Context, cur model.Cursor) (DialogsPage, error)
	GetDialog(ctx context.Context, id string) (model.Dialog, error)
	// GetUsers resolves users by id set, paginated.
	GetUsers(ctx context.Context, ids []string, cur model.Cursor) (UsersPage, error)
	// SearchUsers resolves users by display-name prefix, paginated.
	SearchUsers(ctx context.Context, namePrefix string, cur model.Cursor) (UsersPage, error)

	CreateDialog(ctx context.Context, spec DialogSpec) (model.Dialog, error)
	UpdateDialog(ctx context.Context, spec DialogSpec, deltas MemberDeltas) (model.Dialog, error)
	DeleteDialog(ctx context.Context, id string) error
	SendMessage(ctx context.Context, spec MessageSpec) error
	ReadMessage(ctx context.Context, messageID, dialogID string) error
	MarkDelivered(ctx context.Context, messageID, dialogID string) error

	// Events is the merged inbound real-time event stream.
	Events() <-chan Event
	// Signals is the connection lifecycle stream.
	Signals() <-chan Signal
	// CurrentUserID identifies the authenticated user.
	CurrentUserID() string
}
