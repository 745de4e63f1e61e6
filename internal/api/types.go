package api

import (
	"encoding/json"

	"github.com/agenthub-ai/agenthub/internal/model"
)

// envelope is the backend's standard response wrapper.
type envelope struct {
	Status  json.RawMessage `json:"status"` // bool or string depending on endpoint
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Err     json.RawMessage `json:"error"`
}

// errorEnvelope covers the error payload shapes the backend emits. Message
// preference order when parsing: error.message, message, error (string),
// detail, raw body.
type errorEnvelope struct {
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Err     json.RawMessage `json:"error"`
}

type nestedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// FilePart is one file blob attached to an execution, keyed by its field name.
type FilePart struct {
	FieldName string
	FileName  string
	Data      []byte
}

// ExecuteRequest is the multipart body of POST /api/execute-agent.
type ExecuteRequest struct {
	AgentID  string
	ThreadID string // optional; continues an existing thread
	Params   map[string]any
	Files    []FilePart
}

// ExecuteResponse is the result of one agent execution. A rejection arrives
// as HTTP 200 with Status false; Err and Message carry the reason.
type ExecuteResponse struct {
	Status      bool            `json:"status"`
	Data        json.RawMessage `json:"data"`
	ExecutionID string          `json:"execution_id"`
	ThreadID    string          `json:"thread_id"`
	Message     string          `json:"message"`
	Err         string          `json:"error"`
}

// LoginResult is the outcome of password login, code confirmation, and the
// Google callback exchange.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	LoginID     string `json:"login_id"`
}

// SignUpResult reports whether the account was created or already exists.
type SignUpResult struct {
	Status  string `json:"status"` // "exists" or other
	Message string `json:"message"`
}

// Exists reports the already-registered outcome, which keeps the auth
// machine on the signup view.
func (r SignUpResult) Exists() bool { return r.Status == "exists" }

// GoogleUser is the identity block of the Google code exchange.
type GoogleUser struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Identity returns the best identity marker the provider supplied.
func (u GoogleUser) Identity() string {
	switch {
	case u.Email != "":
		return u.Email
	case u.Username != "":
		return u.Username
	}
	return u.Sub
}

// GoogleAuthResult is the response of POST /api/auth/google.
type GoogleAuthResult struct {
	Status      bool       `json:"status"`
	AccessToken string     `json:"access_token"`
	User        GoogleUser `json:"user"`
}

// creditsBody is the response of GET /api/credits.
type creditsBody struct {
	RemainingTokens float64 `json:"Remaining Tokens"`
	TokenExpired    bool    `json:"tokenExpired"`
}

// ThreadGroup mirrors the backend's history shape: thread id to the thread's
// executions in the order the backend returns them.
type ThreadGroup = map[string][]model.HistoryItem
