package http

import "github.com/SPCG-NEST/daemon/internal/identity"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RegisterResponse is the response body for POST /v1/characters.
type RegisterResponse struct {
	Pubkey string `json:"pubkey"`
}

// LogsResponse is the response body for GET /v1/daemons/:pubkey/logs.
type LogsResponse struct {
	Logs []identity.LogEntry `json:"logs"`
}

// ErrorResponse carries a domain error message.
type ErrorResponse struct {
	Message string `json:"message"`
}
