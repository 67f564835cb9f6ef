package model

// SuccessResponse is the standard envelope for successful calls.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the standard envelope for failed calls.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ConnectResponse is returned by the connect endpoint. SigningKey is the
// hex-encoded per-session HMAC secret, surfaced exactly once.
type ConnectResponse struct {
	Success       bool   `json:"success"`
	SessionID     string `json:"sessionId"`
	ServerVersion string `json:"serverVersion"`
	SigningKey    string `json:"signingKey"`
	UserDatabase  string `json:"userDatabase,omitempty"`
	IsIsolated    bool   `json:"isIsolated"`
}

// DefaultDatabaseOption is one entry of the public default-connection list.
// The underlying URL is deliberately absent.
type DefaultDatabaseOption struct {
	Kind        string `json:"kind"`
	DisplayName string `json:"displayName"`
}
