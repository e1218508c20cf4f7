package domain

// ConnectionStatus is a state of the transport state machine
type ConnectionStatus string

const (
	StateDisconnected  ConnectionStatus = "disconnected"
	StateConnecting    ConnectionStatus = "connecting"
	StateConnected     ConnectionStatus = "connected"
	StateAuthenticated ConnectionStatus = "authenticated"
	StateError         ConnectionStatus = "error"
)

// ConnectionState is the observable state of the push transport
type ConnectionState struct {
	Status            ConnectionStatus `json:"status"`
	Authenticated     bool             `json:"authenticated"`
	LastError         string           `json:"lastError,omitempty"`
	ReconnectAttempts int              `json:"reconnectAttempts"`
}

// Credentials identify the (workspace, user) pair a connection belongs to
type Credentials struct {
	WorkspaceID string
	UserID      string
	Token       string
}

// Key identifies the connection owner; the token is not part of it
func (c Credentials) Key() string {
	return c.WorkspaceID + "/" + c.UserID
}
