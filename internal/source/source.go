package source

import "context"

// DialogInfo describes one conversation known to the live source.
type DialogInfo struct {
	ChatID        string `json:"chat_id"`
	ChatName      string `json:"chat_name"`
	ChatType      string `json:"chat_type"` // private | group | channel
	MessageCount  int64  `json:"message_count"`
	LastMessageAt int64  `json:"last_message_at"`
}

// MessageTuple is the opaque unit the engine ingests: provider internals
// never cross this boundary.
type MessageTuple struct {
	ChatID     string `json:"chat_id"`
	MessageID  string `json:"message_id"`
	Timestamp  int64  `json:"timestamp"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// Source yields chat metadata and incremental message batches.
type Source interface {
	Dialogs(ctx context.Context) ([]DialogInfo, error)
	// Messages returns up to batch messages of a chat with message id
	// greater than minID, oldest first. An empty slice means caught up.
	Messages(ctx context.Context, chatID string, minID int64, batch int) ([]MessageTuple, error)
	Connected(ctx context.Context) bool
}

// Auth states reported by the gateway.
const (
	StateUninitialized = "uninitialized"
	StateNeedsAuth     = "needs_auth"
	StatePhoneSent     = "phone_sent"
	StateConnected     = "connected"
	StateError         = "error"
)

// UserInfo identifies the authenticated account.
type UserInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// AuthStatus is the gateway's view of the connection state machine.
type AuthStatus struct {
	State  string    `json:"state"`
	Detail string    `json:"detail,omitempty"`
	Token  string    `json:"token,omitempty"`
	Error  string    `json:"error,omitempty"`
	User   *UserInfo `json:"user,omitempty"`
}

// Gateway exposes the live source's authentication state machine:
// uninitialized -> needs_auth -> phone_sent -> connected. Provider
// credentials and session handling stay on the other side of this interface.
type Gateway interface {
	Status(ctx context.Context) (AuthStatus, error)
	AuthStart(ctx context.Context, phone string) (AuthStatus, error)
	AuthVerify(ctx context.Context, token, code, password string) (AuthStatus, error)
	Disconnect(ctx context.Context) (AuthStatus, error)
}
