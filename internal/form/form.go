// Package form owns the dynamic form state for one agent: current field
// values, fresh file attachments, and remote references to previously
// uploaded files. Owners drive it through the command interface: the engine
// never reaches into the page and the page never reaches into the engine.
package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/agenthub-ai/agenthub/internal/api"
	"github.com/agenthub-ai/agenthub/internal/model"
	"github.com/agenthub-ai/agenthub/internal/schema"
)

// ErrSubmitInFlight is returned when Submit is called while a previous
// submission has not resolved. This is the only double-submit guard; the
// protocol has no idempotency key.
var ErrSubmitInFlight = errors.New("form: submission already in flight")

// ErrSessionExpired is returned after a 401 from the execution endpoint.
// The session-expiry side effects have already run when callers see it;
// no further error surface is wanted.
var ErrSessionExpired = errors.New("form: session expired")

// ValidationError lists the fields that failed required-field validation,
// in schema order. Nothing was sent to the network.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("form: missing required fields: %s", strings.Join(e.Fields, ", "))
}

// FileHandle is a freshly attached local file.
type FileHandle struct {
	Name string
	Data []byte
}

// PreviewAllocator manages local preview URLs for attached files. Every URL
// Create returns must be passed to Revoke exactly once: when replaced,
// cleared, or on teardown.
type PreviewAllocator interface {
	Create(name string) string
	Revoke(url string)
}

// Executor runs an agent execution. Satisfied by *api.Client.
type Executor interface {
	Execute(ctx context.Context, req api.ExecuteRequest) (*api.ExecuteResponse, error)
}

// SessionExpirer runs the shared session-expiry path. Satisfied by
// *session.Manager.
type SessionExpirer interface {
	Expire(ctx context.Context, reason string)
}

// RehydratePayload carries a past execution's recorded state back into the
// form. Inputs accepts an ordered []model.InputPair or a plain map.
type RehydratePayload struct {
	Inputs   any
	Files    []model.FileMeta
	ThreadID string
}

// Result is a successful submission.
type Result struct {
	Response    *api.ExecuteResponse
	ExecutionID string
	ThreadID    string
}

// Command is dispatched by the engine's owner. Exactly one of the four
// concrete commands below.
type Command interface{ isCommand() }

// Initialize resets the form to schema defaults.
type Initialize struct{}

// Rehydrate restores the form from a past execution.
type Rehydrate struct{ Payload RehydratePayload }

// Clear returns to the Initialize state and drops the active thread.
type Clear struct{}

// Submit validates and executes.
type Submit struct{}

func (Initialize) isCommand() {}
func (Rehydrate) isCommand()  {}
func (Clear) isCommand()      {}
func (Submit) isCommand()     {}

// Engine is the form state for one agent. Safe for concurrent use, though
// the expected call pattern is the UI event loop's serialized handlers.
type Engine struct {
	log      *slog.Logger
	agentID  string
	fields   []model.FieldSchema
	exec     Executor
	sess     SessionExpirer
	previews PreviewAllocator

	mu          sync.Mutex
	values      map[string]any
	files       map[string]FileHandle
	remoteURLs  map[string]string
	previewURLs map[string]string
	threadID    string
	inFlight    bool
}

// NewEngine creates an Engine in the Initialize state.
func NewEngine(logger *slog.Logger, agentID string, fields []model.FieldSchema, exec Executor, sess SessionExpirer, previews PreviewAllocator) *Engine {
	e := &Engine{
		log:      logger,
		agentID:  agentID,
		fields:   fields,
		exec:     exec,
		sess:     sess,
		previews: previews,
	}
	e.Initialize()
	return e
}

// Dispatch runs one command. Only Submit produces a Result.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) (*Result, error) {
	switch c := cmd.(type) {
	case Initialize:
		e.Initialize()
		return nil, nil
	case Rehydrate:
		e.RehydrateFrom(c.Payload)
		return nil, nil
	case Clear:
		e.ClearAll()
		return nil, nil
	case Submit:
		return e.SubmitForm(ctx)
	default:
		return nil, fmt.Errorf("form: unknown command %T", cmd)
	}
}

// Initialize sets every boolean field to its default (structured_output
// true, all others false); scalar and file fields stay absent until the
// user supplies them.
func (e *Engine) Initialize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.releasePreviewsLocked()
	e.values = make(map[string]any)
	e.files = make(map[string]FileHandle)
	e.remoteURLs = make(map[string]string)
	e.threadID = ""
	for _, f := range e.fields {
		if f.Datatype == model.FieldBool {
			e.values[f.Variable] = schema.DefaultValue(f)
		}
	}
	e.values[model.StructuredOutputField] = true
}

// ClearAll returns the form to the Initialize state, drops the thread id,
// and releases every preview URL.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

// Close releases any outstanding preview URLs. Call on teardown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releasePreviewsLocked()
}

func (e *Engine) releasePreviewsLocked() {
	for variable, url := range e.previewURLs {
		e.previews.Revoke(url)
		delete(e.previewURLs, variable)
	}
	e.previewURLs = make(map[string]string)
}

// SetField stores a scalar or boolean value. Numeric values are clamped to a
// minimum of 0; no other normalization happens here.
func (e *Engine) SetField(variable string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch n := value.(type) {
	case int:
		if n < 0 {
			n = 0
		}
		e.values[variable] = n
	case float64:
		e.values[variable] = math.Max(n, 0)
	default:
		e.values[variable] = value
	}
}

// AttachFile attaches a fresh file to a file field. The field's remembered
// remote URL is discarded (a file replaces the remote reference, never
// supplements it) and the old preview URL, if any, is revoked before a new
// one is created.
func (e *Engine) AttachFile(variable string, f FileHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.remoteURLs, variable)
	if old, ok := e.previewURLs[variable]; ok {
		e.previews.Revoke(old)
	}
	e.files[variable] = f
	e.previewURLs[variable] = e.previews.Create(f.Name)
}

// RemoveFile detaches a file field's fresh file and revokes its preview.
func (e *Engine) RemoveFile(variable string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, variable)
	if old, ok := e.previewURLs[variable]; ok {
		e.previews.Revoke(old)
		delete(e.previewURLs, variable)
	}
}

// RehydrateFrom restores form state from a past execution's recorded inputs
// and file metadata. Historical values are coerced to the declared datatype;
// file fields come back only as remote display URLs, never as live files.
func (e *Engine) RehydrateFrom(p RehydratePayload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inputs := normalizeInputs(p.Inputs)
	e.releasePreviewsLocked()
	e.values = make(map[string]any)
	e.files = make(map[string]FileHandle)
	e.remoteURLs = make(map[string]string)

	e.threadID = p.ThreadID
	if e.threadID == "" {
		if tid, ok := inputs["thread_id"]; ok {
			e.threadID = stringify(tid)
		}
	}

	for _, meta := range p.Files {
		displayURL := meta.DisplayURL()
		if displayURL == "" {
			continue
		}
		variable, ok := MatchField(meta, e.fields)
		if !ok {
			continue
		}
		// First match wins: a field that already holds a URL keeps it.
		if _, taken := e.remoteURLs[variable]; taken {
			continue
		}
		e.remoteURLs[variable] = displayURL
	}

	for _, f := range e.fields {
		if f.Datatype == model.FieldFile {
			continue
		}
		raw, ok := inputs[f.Variable]
		if !ok {
			e.values[f.Variable] = schema.DefaultValue(f)
			continue
		}
		e.values[f.Variable] = coerce(f.Datatype, raw)
	}
	e.values[model.StructuredOutputField] = true
}

// SubmitForm validates required fields and executes the agent. Outcomes:
// a *ValidationError (nothing sent), ErrSessionExpired after the shared
// expiry path ran, a user-displayable backend/transport error, or a Result.
func (e *Engine) SubmitForm(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if missing := e.validateLocked(); len(missing) > 0 {
		e.mu.Unlock()
		return nil, &ValidationError{Fields: missing}
	}
	e.inFlight = true
	req := e.buildRequestLocked()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	resp, err := e.exec.Execute(ctx, req)
	if err != nil {
		if api.IsUnauthorized(err) {
			e.sess.Expire(ctx, "agent execution returned 401")
			return nil, ErrSessionExpired
		}
		e.log.Error("form: execution failed", "agent_id", e.agentID, "error", err)
		return nil, err
	}

	e.mu.Lock()
	if resp.ThreadID != "" {
		e.threadID = resp.ThreadID
	}
	e.mu.Unlock()

	return &Result{Response: resp, ExecutionID: resp.ExecutionID, ThreadID: resp.ThreadID}, nil
}

func (e *Engine) validateLocked() []string {
	var missing []string
	for _, f := range e.fields {
		if !f.Required {
			continue
		}
		if f.Datatype == model.FieldFile {
			_, hasFile := e.files[f.Variable]
			_, hasRemote := e.remoteURLs[f.Variable]
			if !hasFile && !hasRemote {
				missing = append(missing, f.Variable)
			}
			continue
		}
		v, ok := e.values[f.Variable]
		if !ok || v == nil {
			missing = append(missing, f.Variable)
			continue
		}
		switch f.Datatype {
		case model.FieldInt:
			if !isNumeric(v) {
				missing = append(missing, f.Variable)
			}
		case model.FieldBool:
			// A boolean is always present once initialized.
		default:
			if s, isStr := v.(string); isStr && s == "" {
				missing = append(missing, f.Variable)
			}
		}
	}
	return missing
}

func (e *Engine) buildRequestLocked() api.ExecuteRequest {
	params := make(map[string]any, len(e.values)+len(e.remoteURLs))
	for k, v := range e.values {
		params[k] = v
	}
	// A file field satisfied by a stored upload is sent by reference.
	for variable, url := range e.remoteURLs {
		if _, replaced := e.files[variable]; !replaced {
			params[variable] = url
		}
	}
	params[model.StructuredOutputField] = true

	var files []api.FilePart
	for _, f := range e.fields {
		if handle, ok := e.files[f.Variable]; ok {
			files = append(files, api.FilePart{FieldName: f.Variable, FileName: handle.Name, Data: handle.Data})
		}
	}

	return api.ExecuteRequest{
		AgentID:  e.agentID,
		ThreadID: e.threadID,
		Params:   params,
		Files:    files,
	}
}

// Value returns the current value for a variable.
func (e *Engine) Value(variable string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.values[variable]
}

// RemoteURL returns the remembered remote URL for a file field, if any.
func (e *Engine) RemoteURL(variable string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.remoteURLs[variable]
	return u, ok
}

// PreviewURL returns the active local preview URL for a file field, if any.
func (e *Engine) PreviewURL(variable string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.previewURLs[variable]
	return u, ok
}

// ThreadID returns the active conversation thread, empty for a fresh form.
func (e *Engine) ThreadID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threadID
}

// normalizeInputs folds the two historical input shapes, ordered
// {variable, variable_value} lists and plain objects, into one map.
func normalizeInputs(in any) map[string]any {
	out := make(map[string]any)
	switch v := in.(type) {
	case nil:
	case []model.InputPair:
		for _, p := range v {
			out[p.Variable] = p.Value
		}
	case map[string]any:
		for k, val := range v {
			out[k] = val
		}
	case map[string]string:
		for k, val := range v {
			out[k] = val
		}
	}
	return out
}

// coerce converts a historical string value to the field's declared
// datatype. Booleans accept a native bool or "true" (case-insensitive),
// else false. Ints floor numerics and parse strings, defaulting to 0.
// Everything else stringifies.
func coerce(t model.FieldType, raw any) any {
	switch t {
	case model.FieldBool:
		switch v := raw.(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		default:
			return false
		}
	case model.FieldInt:
		switch v := raw.(type) {
		case int:
			return v
		case float64:
			return int(math.Floor(v))
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return 0
			}
			return n
		default:
			return 0
		}
	default:
		return stringify(raw)
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func isNumeric(v any) bool {
	switch n := v.(type) {
	case int, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return err == nil
	default:
		return false
	}
}
