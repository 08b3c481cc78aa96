package types

// GenerateRequest starts a generation via POST /generate.
type GenerateRequest struct {
	// One of send, regenerate, continue. Empty means send when Text is set, otherwise regenerate.
	// example: send
	Mode string `json:"mode,omitempty" example:"send"`
	// User turn appended before generating (mode=send).
	// example: Hi there!
	Text string `json:"text,omitempty" example:"Hi there!"`
}

// GenerateResponse acknowledges an accepted generation.
type GenerateResponse struct {
	// example: 5b1f2c1e-5e0a-4b83-8d0f-4a6f1c0f3b7e
	GenerationID string `json:"generation_id" example:"5b1f2c1e-5e0a-4b83-8d0f-4a6f1c0f3b7e"`
	// example: requesting
	Status string `json:"status" example:"requesting"`
}

// BufferResponse is returned by GET /buffer.
type BufferResponse struct {
	GenerationID string `json:"generation_id,omitempty"`
	// example: streaming
	Status string `json:"status" example:"streaming"`
	// Filtered text produced so far.
	Text string `json:"text"`
}

// ContextResponse is returned by GET /context.
type ContextResponse struct {
	// example: text
	Mode     string      `json:"mode" example:"text"`
	Text     string      `json:"text,omitempty"`
	Messages []ChatEntry `json:"messages,omitempty"`
	// Estimated tokens used by the assembled context.
	// example: 1532
	Tokens int `json:"tokens" example:"1532"`
	// Number of conversation messages that fit the budget.
	// example: 14
	Included int `json:"included" example:"14"`
}

// ChatResponse is returned by GET /chat.
type ChatResponse struct {
	Character string    `json:"character"`
	User      string    `json:"user"`
	Messages  []Message `json:"messages"`
}

// LogsResponse is returned by GET /logs.
type LogsResponse struct {
	Lines []string `json:"lines"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Configured backend.
	// example: kobold
	Backend string `json:"backend" example:"kobold"`
	// Controller state (idle, requesting, streaming).
	// example: idle
	State string `json:"state" example:"idle"`
	// example: false
	NowGenerating bool   `json:"now_generating" example:"false"`
	GenerationID  string `json:"generation_id,omitempty"`
	// Outcome of the previous generation (completed, aborted, errored).
	// example: completed
	LastOutcome string `json:"last_outcome,omitempty" example:"completed"`
	LastError   string `json:"last_error,omitempty"`
	// example: 112
	BufferLen int `json:"buffer_len" example:"112"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 12
	GenerationsTotal uint64 `json:"generations_total" example:"12"`
	// example: 1
	AbortsTotal uint64 `json:"aborts_total" example:"1"`
	// example: 0
	ErrorsTotal uint64 `json:"errors_total" example:"0"`
}
