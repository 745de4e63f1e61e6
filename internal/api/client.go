package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/agenthub-ai/agenthub/internal/model"
	"github.com/agenthub-ai/agenthub/internal/telemetry"
)

const (
	// executeTimeout is the client-side budget for one agent execution.
	executeTimeout = 5 * time.Minute
	// callTimeout applies to auth calls and every other short request.
	callTimeout = 15 * time.Second
)

// TokenSource supplies the current access credential, if any.
type TokenSource interface {
	AccessToken() (string, bool)
}

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the AgentHub backend.
	BaseURL string

	// Tokens supplies the access token attached to authenticated calls.
	Tokens TokenSource

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client is used; per-call deadlines come from contexts, not the client.
	HTTPClient *http.Client
}

// Client is an HTTP client for the AgentHub backend API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	tokens     TokenSource
	client     *http.Client
	tracer     trace.Tracer
	executions metric.Int64Counter
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("api: Tokens is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	executions, err := telemetry.Meter("agenthub/api").Int64Counter(
		"agenthub.executions",
		metric.WithDescription("Agent executions by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("api: create executions counter: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		client:     httpClient,
		tracer:     otel.Tracer("agenthub/api"),
		executions: executions,
	}, nil
}

// AgentDetails fetches an agent's definition and input schema.
func (c *Client) AgentDetails(ctx context.Context, agentID string) (*model.AgentDefinition, error) {
	var def model.AgentDefinition
	if err := c.get(ctx, "/api/get-agent-details/"+url.PathEscape(agentID), true, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// History fetches all execution history for an agent, grouped by thread.
func (c *Client) History(ctx context.Context, agentID string) (ThreadGroup, error) {
	var threads ThreadGroup
	if err := c.get(ctx, "/api/get-history/"+url.PathEscape(agentID), true, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// ExecutionDetail fetches the full record of one past execution.
func (c *Client) ExecutionDetail(ctx context.Context, executionID, agentID string) (*model.ExecutionDetail, error) {
	path := "/api/get-agent-history/" + url.PathEscape(executionID) + "?agent_id=" + url.QueryEscape(agentID)
	var detail model.ExecutionDetail
	if err := c.get(ctx, path, true, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Execute runs an agent. The multipart body carries agent_id, access_token,
// the optional thread_id, api_params as a JSON-stringified single-element
// array of the field map, and one part per attached file keyed by field name.
// The call has a five-minute budget and is never retried.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "execute-agent",
		trace.WithAttributes(attribute.String("agent.id", req.AgentID)))
	defer span.End()

	token, _ := c.tokens.AccessToken()

	params, err := json.Marshal([]map[string]any{req.Params})
	if err != nil {
		return nil, fmt.Errorf("api: marshal api_params: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{
		{"agent_id", req.AgentID},
		{"access_token", token},
		{"api_params", string(params)},
	}
	if req.ThreadID != "" {
		fields = append(fields, [2]string{"thread_id", req.ThreadID})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("api: write field %s: %w", f[0], err)
		}
	}
	for _, f := range req.Files {
		part, err := w.CreateFormFile(f.FieldName, f.FileName)
		if err != nil {
			return nil, fmt.Errorf("api: create file part %s: %w", f.FieldName, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("api: write file part %s: %w", f.FieldName, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("api: close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/execute-agent", &body)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	outcome := func(s string) {
		c.executions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent.id", req.AgentID),
			attribute.String("outcome", s),
		))
	}

	var resp ExecuteResponse
	if err := c.do(httpReq, &resp, false); err != nil {
		outcome("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return nil, err
	}
	if !resp.Status {
		// The backend rejects executions with a 200 body carrying
		// status:false. Surface it as an error, preferring the error
		// field over the message.
		apiErr := &Error{StatusCode: http.StatusOK, Code: "execution_failed", Message: resp.Err}
		if apiErr.Message == "" {
			apiErr.Message = resp.Message
		}
		outcome("rejected")
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "execution rejected")
		return nil, apiErr
	}
	outcome("success")
	span.SetAttributes(attribute.String("execution.id", resp.ExecutionID))
	return &resp, nil
}

// Credits fetches the remaining token balance. A tokenExpired flag in the
// body is reported as a 401 so callers take the session-expiry path.
func (c *Client) Credits(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/api/credits", nil, true)
	if err != nil {
		return 0, err
	}
	var body creditsBody
	if err := c.do(httpReq, &body, true); err != nil {
		return 0, err
	}
	if body.TokenExpired {
		return 0, &Error{StatusCode: http.StatusUnauthorized, Code: "TOKEN_EXPIRED", Message: defaultMessage(http.StatusUnauthorized)}
	}
	return int(body.RemainingTokens), nil
}

// SharedData fetches a publicly shared execution. No authentication.
func (c *Client) SharedData(ctx context.Context, shareUUID string) (*model.SharedArtifact, error) {
	var artifact model.SharedArtifact
	if err := c.get(ctx, "/api/get-shared-data/"+url.PathEscape(shareUUID), false, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ---------------------------------------------------------------------------
// Auth endpoints
// ---------------------------------------------------------------------------

// Login exchanges email and password for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	if err := c.post(ctx, "/api/auth/login", map[string]string{"email": email, "password": password}, false, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SignUp registers a new account. An existing account is not an error at
// this layer; check SignUpResult.Exists.
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	var res SignUpResult
	if err := c.post(ctx, "/api/auth/sign-up", map[string]string{"email": email, "password": password}, false, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ConfirmSignUp submits the emailed confirmation code together with the held
// password so the backend can complete login in the same step. The token
// fields may be absent; the auth machine treats that as a fall-back-to-login.
func (c *Client) ConfirmSignUp(ctx context.Context, email, code, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "confirmation_code": code, "password": password}
	var res LoginResult
	if err := c.post(ctx, "/api/auth/confirm-sign-up", body, false, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResendConfirmationCode asks the backend to email a fresh code.
func (c *Client) ResendConfirmationCode(ctx context.Context, email string) error {
	path := "/api/auth/resend-confirmation-code?username=" + url.QueryEscape(email)
	return c.post(ctx, path, nil, false, nil)
}

// PasswordResetInitiate starts the two-step reset flow.
func (c *Client) PasswordResetInitiate(ctx context.Context, email string) error {
	return c.post(ctx, "/api/auth/password-reset/initiate", map[string]string{"email": email}, false, nil)
}

// PasswordResetConfirm completes the reset with the emailed code.
func (c *Client) PasswordResetConfirm(ctx context.Context, email, code, newPassword string) error {
	body := map[string]string{"email": email, "confirmation_code": code, "new_password": newPassword}
	return c.post(ctx, "/api/auth/password-reset/confirm", body, false, nil)
}

// GoogleAuth exchanges the OAuth authorization code for an access token.
func (c *Client) GoogleAuth(ctx context.Context, code string) (*GoogleAuthResult, error) {
	var res GoogleAuthResult
	if err := c.post(ctx, "/api/auth/google", map[string]string{"code": code}, false, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, authed bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	if authed {
		if token, ok := c.tokens.AccessToken(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, authed bool, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil, authed)
	if err != nil {
		return err
	}
	return c.do(req, dest, true)
}

func (c *Client) post(ctx context.Context, path string, body any, authed bool, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, reader, authed)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest, true)
}

// do sends the request and decodes the response. When unwrap is true the
// body's { "data": ... } envelope is removed first; endpoints that respond
// with a flat object (execute-agent) pass false.
func (c *Client) do(req *http.Request, dest any, unwrap bool) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if unwrap {
		var env envelope
		if err := json.Unmarshal(bodyBytes, &env); err != nil {
			return fmt.Errorf("api: decode response envelope: %w", err)
		}
		if env.Err != nil {
			return parseErrorResponse(resp.StatusCode, bodyBytes)
		}
		if env.Data != nil {
			return json.Unmarshal(env.Data, dest)
		}
	}
	return json.Unmarshal(bodyBytes, dest)
}

// parseErrorResponse builds an *Error, sourcing the message from the richest
// available field of the payload.
func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode, Code: http.StatusText(statusCode)}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Err != nil {
			var nested nestedError
			if err := json.Unmarshal(env.Err, &nested); err == nil && nested.Message != "" {
				if nested.Code != "" {
					apiErr.Code = nested.Code
				}
				apiErr.Message = nested.Message
				apiErr.Details = nested.Details
				return apiErr
			}
			var flat string
			if err := json.Unmarshal(env.Err, &flat); err == nil && flat != "" {
				apiErr.Message = flat
				return apiErr
			}
		}
		if env.Message != "" {
			apiErr.Message = env.Message
			return apiErr
		}
		if env.Detail != "" {
			apiErr.Message = env.Detail
			return apiErr
		}
	}

	apiErr.Message = defaultMessage(statusCode)
	return apiErr
}

// defaultMessage maps common statuses to distinct user-facing messages for
// payloads that carry none.
func defaultMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "The request was invalid. Please check your inputs."
	case http.StatusUnauthorized:
		return "Your session has expired. Please log in again."
	case http.StatusNotFound:
		return "The requested agent could not be found."
	default:
		return "Something went wrong. Please try again."
	}
}
