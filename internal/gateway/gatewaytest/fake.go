// Package gatewaytest provides an in-memory Gateway for tests: scripted
// dialog/user pages, injectable errors, and manual event/signal injection.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/quickblox/dialogsync/internal/gateway"
	"github.com/quickblox/dialogsync/internal/model"
)

// Fake implements gateway.Gateway from in-memory fixtures.
type Fake struct {
	userID  string
	events  chan gateway.Event
	signals chan gateway.Signal

	mu      sync.Mutex
	dialogs []model.Dialog
	users   map[string]model.User

	connected bool

	// Injectable failures, consumed by the next matching call.
	DialogsErr   error
	GetDialogErr error
	UsersErr     error
	MutationErr  error

	// BeforeDialogsPage, when set, runs before serving each dialogs page
	// (1-based). Returning an error fails that page.
	BeforeDialogsPage func(page int) error

	// BeforeGetDialog, when set, runs before each GetDialog. It may block
	// to hold that fetch open.
	BeforeGetDialog func(id string)

	dialogPages int
	userPages   int

	sent      []gateway.MessageSpec
	reads     [][2]string
	delivered [][2]string
	deleted   []string
}

// New creates a fake gateway for the given current user.
func New(userID string) *Fake {
	return &Fake{
		userID:  userID,
		events:  make(chan gateway.Event, 256),
		signals: make(chan gateway.Signal, 256),
		users:   make(map[string]model.User),
	}
}

// SetDialogs replaces the remote dialog set, already ordered
// most-recently-updated-first.
func (f *Fake) SetDialogs(ds []model.Dialog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialogs = ds
}

// PutUser adds a user to the remote directory.
func (f *Fake) PutUser(u model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

// Emit injects an inbound push event.
func (f *Fake) Emit(evt gateway.Event) { f.events <- evt }

// Signal injects a connection signal.
func (f *Fake) Signal(s gateway.Signal) { f.signals <- s }

// DialogPages reports how many dialog pages were served.
func (f *Fake) DialogPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialogPages
}

// UserPages reports how many user pages were served.
func (f *Fake) UserPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userPages
}

// SentMessages returns the specs passed to SendMessage.
func (f *Fake) SentMessages() []gateway.MessageSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.MessageSpec(nil), f.sent...)
}

// DeletedDialogs returns the ids passed to DeleteDialog.
func (f *Fake) DeletedDialogs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.signals <- gateway.Signal{State: gateway.StateConnecting}
	f.signals <- gateway.Signal{State: gateway.StateConnected}
	return nil
}

func (f *Fake) Disconnect(context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.signals <- gateway.Signal{State: gateway.StateDisconnected}
	return nil
}

func (f *Fake) CheckConnection(context.Context) gateway.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return gateway.Signal{State: gateway.StateConnected}
	}
	return gateway.Signal{State: gateway.StateDisconnected}
}

func (f *Fake) GetDialogs(ctx context.Context, cur model.Cursor) (gateway.DialogsPage, error) {
	if err := ctx.Err(); err != nil {
		return gateway.DialogsPage{}, fmt.Errorf("%w: %v", gateway.ErrUnexpected, err)
	}

	f.mu.Lock()
	f.dialogPages++
	page := f.dialogPages
	hook := f.BeforeDialogsPage
	if err := f.DialogsErr; err != nil {
		f.DialogsErr = nil
		f.mu.Unlock()
		return gateway.DialogsPage{}, err
	}
	dialogs := f.dialogs
	f.mu.Unlock()

	if hook != nil {
		if err := hook(page); err != nil {
			return gateway.DialogsPage{}, err
		}
	}

	lo := min(cur.Skip, len(dialogs))
	hi := min(cur.Skip+cur.Limit, len(dialogs))

	out := gateway.DialogsPage{Cursor: cur.WithTotal(len(dialogs))}
	seen := make(map[string]struct{})
	for _, d := range dialogs[lo:hi] {
		out.Dialogs = append(out.Dialogs, d.Clone())
		for _, id := range d.ParticipantIDs {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out.ParticipantIDs = append(out.ParticipantIDs, id)
			}
		}
	}
	return out, nil
}

func (f *Fake) GetDialog(_ context.Context, id string) (model.Dialog, error) {
	f.mu.Lock()
	hook := f.BeforeGetDialog
	if err := f.GetDialogErr; err != nil {
		f.GetDialogErr = nil
		f.mu.Unlock()
		return model.Dialog{}, err
	}
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.dialogs {
		if d.ID == id {
			return d.Clone(), nil
		}
	}
	return model.Dialog{}, fmt.Errorf("%w: dialog %s", gateway.ErrNotFound, id)
}

func (f *Fake) GetUsers(_ context.Context, ids []string, cur model.Cursor) (gateway.UsersPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userPages++
	if err := f.UsersErr; err != nil {
		f.UsersErr = nil
		return gateway.UsersPage{}, err
	}

	var matched []model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			matched = append(matched, u)
		}
	}
	return pageUsers(matched, cur), nil
}

func (f *Fake) SearchUsers(_ context.Context, namePrefix string, cur model.Cursor) (gateway.UsersPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []model.User
	for _, u := range f.users {
		if len(u.Name) >= len(namePrefix) && u.Name[:len(namePrefix)] == namePrefix {
			matched = append(matched, u)
		}
	}
	return pageUsers(matched, cur), nil
}

func pageUsers(users []model.User, cur model.Cursor) gateway.UsersPage {
	lo := min(cur.Skip, len(users))
	hi := min(cur.Skip+cur.Limit, len(users))
	return gateway.UsersPage{
		Users:  append([]model.User(nil), users[lo:hi]...),
		Cursor: cur.WithTotal(len(users)),
	}
}

func (f *Fake) CreateDialog(_ context.Context, spec gateway.DialogSpec) (model.Dialog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.MutationErr; err != nil {
		f.MutationErr = nil
		return model.Dialog{}, err
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	d := model.Dialog{
		ID:             id,
		Type:           spec.Type,
		Name:           spec.Name,
		Photo:          spec.Photo,
		ParticipantIDs: append([]string(nil), spec.ParticipantIDs...),
		OwnerID:        f.userID,
		IsOwned:        true,
	}
	f.dialogs = append([]model.Dialog{d}, f.dialogs...)
	return d.Clone(), nil
}

func (f *Fake) UpdateDialog(_ context.Context, spec gateway.DialogSpec, deltas gateway.MemberDeltas) (model.Dialog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.MutationErr; err != nil {
		f.MutationErr = nil
		return model.Dialog{}, err
	}
	for i := range f.dialogs {
		if f.dialogs[i].ID != spec.ID {
			continue
		}
		d := &f.dialogs[i]
		if spec.Name != "" {
			d.Name = spec.Name
		}
		if spec.Photo != "" {
			d.Photo = spec.Photo
		}
		for _, id := range deltas.Remove {
			d.RemoveParticipant(id)
		}
		for _, id := range deltas.Add {
			if !d.HasParticipant(id) {
				d.ParticipantIDs = append(d.ParticipantIDs, id)
			}
		}
		return d.Clone(), nil
	}
	return model.Dialog{}, fmt.Errorf("%w: dialog %s", gateway.ErrNotFound, spec.ID)
}

func (f *Fake) DeleteDialog(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.MutationErr; err != nil {
		f.MutationErr = nil
		return err
	}
	f.deleted = append(f.deleted, id)
	for i := range f.dialogs {
		if f.dialogs[i].ID == id {
			f.dialogs = append(f.dialogs[:i], f.dialogs[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) SendMessage(_ context.Context, spec gateway.MessageSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.MutationErr; err != nil {
		f.MutationErr = nil
		return err
	}
	f.sent = append(f.sent, spec)
	return nil
}

func (f *Fake) ReadMessage(_ context.Context, messageID, dialogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, [2]string{messageID, dialogID})
	return nil
}

func (f *Fake) MarkDelivered(_ context.Context, messageID, dialogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, [2]string{messageID, dialogID})
	return nil
}

func (f *Fake) Events() <-chan gateway.Event   { return f.events }
func (f *Fake) Signals() <-chan gateway.Signal { return f.signals }
func (f *Fake) CurrentUserID() string          { return f.userID }
