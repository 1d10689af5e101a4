package types

// CreateSessionRequest asks the server to construct a conversation session.
type CreateSessionRequest struct {
	// Catalog key of the model size to serve, case-insensitive.
	// example: 7b
	ModelSize string `json:"model_size" example:"7b"`
	// If true, disable prompt engineering and retrieval: pure conversation.
	// example: false
	ConverseMode bool `json:"converse_mode,omitempty" example:"false"`
}

// SessionResponse describes a session after creation or lookup.
type SessionResponse struct {
	// Session identifier used in per-session routes.
	// example: 7b1f0b9e-0c5e-4a3c-9d2f-2f6f0b8a4d11
	ID string `json:"id" example:"7b1f0b9e-0c5e-4a3c-9d2f-2f6f0b8a4d11"`
	// Catalog key the session was built for.
	// example: 7b
	ModelSize string `json:"model_size" example:"7b"`
	// Whether prompt engineering and retrieval are disabled.
	ConverseMode bool `json:"converse_mode"`
	// Number of messages currently in history (including the seeded pair).
	// example: 2
	HistoryLen int `json:"history_len" example:"2"`
}

// GenerateRequest carries one user turn.
type GenerateRequest struct {
	// User input to convert or converse about.
	// example: create an inverter with two fingers
	Input string `json:"input" example:"create an inverter with two fingers"`
}

// GenerateResponse carries the assistant turn for a generate call.
type GenerateResponse struct {
	// Decoded model output for this turn.
	Output string `json:"output"`
	// Number of messages in history after the turn.
	// example: 4
	HistoryLen int `json:"history_len" example:"4"`
}

// HistoryResponse returns the full append-only conversation log.
type HistoryResponse struct {
	Messages []ChatMessage `json:"messages"`
}

// ModelsResponse wraps the catalog entries returned by GET /models.
type ModelsResponse struct {
	Models []ModelDescriptor `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid model key: 99b
	Error string `json:"error" example:"invalid model key: 99b"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SessionStatus summarizes one live session for /status.
type SessionStatus struct {
	// Session identifier.
	ID string `json:"id"`
	// Catalog key the session serves.
	// example: 7b
	ModelSize string `json:"model_size" example:"7b"`
	// Number of messages in history.
	// example: 6
	HistoryLen int `json:"history_len" example:"6"`
	// Last time this session served a turn (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Whether a turn is currently in flight.
	Inflight bool `json:"inflight"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Live sessions.
	Sessions []SessionStatus `json:"sessions"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
