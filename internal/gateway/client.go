package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quickblox/dialogsync/internal/model"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
	"go.uber.org/zap"
)

const (
	// defaultAckTimeout bounds every query/mutation round-trip.
	defaultAckTimeout = 15 * time.Second
	// eventBuffer sizes the inbound event and signal channels.
	eventBuffer = 256

	socketPath = "/v1/sync"
)

// pushEventNames are the socket event names the backend pushes.
var pushEventNames = []string{
	"dialog-created", "dialog-updated", "dialog-left", "dialog-removed",
	"participant-left", "new-message", "message-read", "message-delivered",
	"typing", "stop-typing",
}

// Config holds the connection parameters for the production gateway.
type Config struct {
	ServerURL  string
	Token      string
	AckTimeout time.Duration
}

// Client is the production Gateway over Socket.IO: queries and mutations
// are emit-with-ack exchanges, push events arrive as socket events.
type Client struct {
	cfg    Config
	logger *zap.Logger
	dec    decoder

	userID   string
	tokenExp time.Time

	mu        sync.RWMutex
	sock      *socket.Socket
	connected bool

	events  chan Event
	signals chan Signal

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a gateway client. The token is a backend-issued JWT;
// its subject and expiry are read locally (unverified — the backend is the
// verifier) so a dead token maps to unauthorized without a round-trip.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(cfg.Token, claims); err != nil {
		return nil, fmt.Errorf("%w: parse token: %v", ErrUnauthorized, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	var exp time.Time
	if t, err := claims.GetExpirationTime(); err == nil && t != nil {
		exp = t.Time
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		dec:      decoder{userID: sub},
		userID:   sub,
		tokenExp: exp,
		events:   make(chan Event, eventBuffer),
		signals:  make(chan Signal, eventBuffer),
		done:     make(chan struct{}),
	}, nil
}

// CurrentUserID returns the token subject.
func (c *Client) CurrentUserID() string { return c.userID }

// Events returns the merged inbound event stream.
func (c *Client) Events() <-chan Event { return c.events }

// Signals returns the connection lifecycle stream.
func (c *Client) Signals() <-chan Signal { return c.signals }

// Connect establishes the Socket.IO connection and wires event handlers.
func (c *Client) Connect(_ context.Context) error {
	if c.tokenExpired() {
		c.signal(Signal{State: StateUnauthorized, Err: ErrUnauthorized})
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	}

	c.signal(Signal{State: StateConnecting})

	opts := socket.DefaultOptions()
	opts.SetPath(socketPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{"token": c.cfg.Token})

	sock, err := socket.Connect(c.cfg.ServerURL, opts)
	if err != nil {
		err = fmt.Errorf("%w: connect: %v", ErrUnexpected, err)
		c.signal(Signal{State: StateDisconnected, Err: err})
		return err
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()

	sock.On(types.EventName("connect"), func(...any) {
		c.setConnected(true)
		c.logger.Info("gateway connected", zap.String("sid", string(sock.Id())))
		c.signal(Signal{State: StateConnected})
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		c.setConnected(false)
		reason := ""
		if len(args) > 0 {
			reason, _ = args[0].(string)
		}
		c.logger.Warn("gateway disconnected", zap.String("reason", reason))
		var err error
		if reason != "" && reason != "io client disconnect" {
			err = fmt.Errorf("%w: %s", ErrUnexpected, reason)
		}
		c.signal(Signal{State: StateDisconnected, Err: err})
	})
	sock.On(types.EventName("connect_error"), func(args ...any) {
		c.setConnected(false)
		err := fmt.Errorf("%w: connect error", ErrUnexpected)
		if len(args) > 0 {
			err = fmt.Errorf("%w: connect error: %v", ErrUnexpected, args[0])
		}
		c.signal(Signal{State: StateDisconnected, Err: err})
	})

	for _, name := range pushEventNames {
		name := name
		sock.On(types.EventName(name), func(args ...any) {
			var data map[string]any
			if len(args) > 0 {
				data, _ = args[0].(map[string]any)
			}
			evt, ok := c.dec.decodeEvent(name, data)
			if !ok {
				return
			}
			select {
			case c.events <- evt:
			case <-c.done:
			}
		})
	}

	return nil
}

// Disconnect tears down the socket. The disconnect handler emits the
// terminal signal.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.connected = false
	c.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	return nil
}

// Close permanently shuts the client down.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	_ = c.Disconnect(context.Background())
}

// CheckConnection reports the current connection snapshot.
func (c *Client) CheckConnection(_ context.Context) Signal {
	if c.tokenExpired() {
		return Signal{State: StateUnauthorized, Err: ErrUnauthorized}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.connected {
		return Signal{State: StateConnected}
	}
	return Signal{State: StateDisconnected}
}

func (c *Client) tokenExpired() bool {
	return !c.tokenExp.IsZero() && time.Now().After(c.tokenExp)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) signal(s Signal) {
	select {
	case c.signals <- s:
	default:
		// The sync engine drains signals continuously; if it is gone
		// there is nobody left to tell.
	}
}

// call performs one emit-with-ack exchange and maps wire errors to the
// taxonomy.
func (c *Client) call(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	c.mu.RLock()
	sock := c.sock
	c.mu.RUnlock()
	if sock == nil {
		return nil, fmt.Errorf("%w: not connected", ErrUnexpected)
	}

	type ackResult struct {
		data map[string]any
		err  error
	}
	resCh := make(chan ackResult, 1)

	if err := sock.Emit(method, payload, func(args []any, err error) {
		if err != nil {
			resCh <- ackResult{err: fmt.Errorf("%w: %s: %v", ErrUnexpected, method, err)}
			return
		}
		var data map[string]any
		if len(args) > 0 {
			data, _ = args[0].(map[string]any)
		}
		resCh <- ackResult{data: data}
	}); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnexpected, method, err)
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		if werr, ok := obj(res.data, "error"); ok {
			return nil, wireError(str(werr, "code"), str(werr, "message"))
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrUnexpected, method, ctx.Err())
	case <-time.After(c.cfg.AckTimeout):
		return nil, fmt.Errorf("%w: %s: ack timeout", ErrUnexpected, method)
	}
}

// GetDialogs returns one page of dialogs ordered most-recently-updated-first
// plus the union of participant ids across the page.
func (c *Client) GetDialogs(ctx context.Context, cur model.Cursor) (DialogsPage, error) {
	res, err := c.call(ctx, "dialogs.list", map[string]any{
		"skip":  cur.Skip,
		"limit": cur.Limit,
		"sort":  "-updated_at",
	})
	if err != nil {
		return DialogsPage{}, err
	}

	page := DialogsPage{Cursor: cur.WithTotal(integer(res, "total"))}
	seen := make(map[string]struct{})
	if raw, ok := res["dialogs"].([]any); ok {
		for _, item := range raw {
			data, ok := item.(map[string]any)
			if !ok {
				continue
			}
			dlg := c.dec.decodeDialog(data)
			page.Dialogs = append(page.Dialogs, dlg)
			for _, id := range dlg.ParticipantIDs {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					page.ParticipantIDs = append(page.ParticipantIDs, id)
				}
			}
		}
	}
	return page, nil
}

// GetDialog fetches one dialog by id.
func (c *Client) GetDialog(ctx context.Context, id string) (model.Dialog, error) {
	res, err := c.call(ctx, "dialogs.get", map[string]any{"dialog_id": id})
	if err != nil {
		return model.Dialog{}, err
	}
	data, ok := obj(res, "dialog")
	if !ok {
		return model.Dialog{}, fmt.Errorf("%w: dialogs.get: missing dialog", ErrIncorrectData)
	}
	return c.dec.decodeDialog(data), nil
}

// GetUsers resolves a page of users by id set.
func (c *Client) GetUsers(ctx context.Context, ids []string, cur model.Cursor) (UsersPage, error) {
	return c.userQuery(ctx, map[string]any{
		"ids":   ids,
		"skip":  cur.Skip,
		"limit": cur.Limit,
	}, cur)
}

// SearchUsers resolves a page of users by display-name prefix.
func (c *Client) SearchUsers(ctx context.Context, namePrefix string, cur model.Cursor) (UsersPage, error) {
	return c.userQuery(ctx, map[string]any{
		"name_prefix": namePrefix,
		"skip":        cur.Skip,
		"limit":       cur.Limit,
	}, cur)
}

func (c *Client) userQuery(ctx context.Context, payload map[string]any, cur model.Cursor) (UsersPage, error) {
	res, err := c.call(ctx, "users.list", payload)
	if err != nil {
		return UsersPage{}, err
	}
	page := UsersPage{Cursor: cur.WithTotal(integer(res, "total"))}
	if raw, ok := res["users"].([]any); ok {
		for _, item := range raw {
			if data, ok := item.(map[string]any); ok {
				page.Users = append(page.Users, c.dec.decodeUser(data))
			}
		}
	}
	return page, nil
}

// CreateDialog creates a dialog and returns the authoritative server copy.
func (c *Client) CreateDialog(ctx context.Context, spec DialogSpec) (model.Dialog, error) {
	res, err := c.call(ctx, "dialogs.create", map[string]any{
		"type":            string(spec.Type),
		"name":            spec.Name,
		"photo":           spec.Photo,
		"participant_ids": spec.ParticipantIDs,
	})
	if err != nil {
		return model.Dialog{}, err
	}
	data, ok := obj(res, "dialog")
	if !ok {
		return model.Dialog{}, fmt.Errorf("%w: dialogs.create: missing dialog", ErrIncorrectData)
	}
	return c.dec.decodeDialog(data), nil
}

// UpdateDialog applies field changes and membership deltas.
func (c *Client) UpdateDialog(ctx context.Context, spec DialogSpec, deltas MemberDeltas) (model.Dialog, error) {
	res, err := c.call(ctx, "dialogs.update", map[string]any{
		"dialog_id":      spec.ID,
		"name":           spec.Name,
		"photo":          spec.Photo,
		"add_members":    deltas.Add,
		"remove_members": deltas.Remove,
	})
	if err != nil {
		return model.Dialog{}, err
	}
	data, ok := obj(res, "dialog")
	if !ok {
		return model.Dialog{}, fmt.Errorf("%w: dialogs.update: missing dialog", ErrIncorrectData)
	}
	return c.dec.decodeDialog(data), nil
}

// DeleteDialog leaves/removes the dialog for the current user.
func (c *Client) DeleteDialog(ctx context.Context, id string) error {
	_, err := c.call(ctx, "dialogs.delete", map[string]any{"dialog_id": id})
	return err
}

// SendMessage posts an outbound message.
func (c *Client) SendMessage(ctx context.Context, spec MessageSpec) error {
	_, err := c.call(ctx, "messages.send", map[string]any{
		"id":        spec.ID,
		"dialog_id": spec.DialogID,
		"text":      spec.Text,
		"file_id":   spec.FileID,
	})
	return err
}

// ReadMessage sends a read receipt.
func (c *Client) ReadMessage(ctx context.Context, messageID, dialogID string) error {
	_, err := c.call(ctx, "messages.read", map[string]any{
		"message_id": messageID,
		"dialog_id":  dialogID,
	})
	return err
}

// MarkDelivered sends a delivery receipt.
func (c *Client) MarkDelivered(ctx context.Context, messageID, dialogID string) error {
	_, err := c.call(ctx, "messages.delivered", map[string]any{
		"message_id": messageID,
		"dialog_id":  dialogID,
	})
	return err
}
