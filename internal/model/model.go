// Package model defines the domain types shared across AgentHub subsystems:
// agent field schemas, execution history, and the payload shapes the backend
// returns. The backend owns all of these records; the client only reads them
// and re-submits derived data.
package model

import (
	"encoding/json"
	"time"
)

// FieldType is the declared datatype of an agent input field.
type FieldType string

const (
	FieldBool   FieldType = "bool"
	FieldInt    FieldType = "int"
	FieldFile   FieldType = "file"
	FieldString FieldType = "string"
)

// StructuredOutputField is the implicit backend flag requesting
// machine-parseable agent output. It is always coerced to true before
// submission regardless of UI state, and never shown as a form control.
const StructuredOutputField = "structured_output"

// FieldSchema describes one typed input field of an agent. Immutable per
// agent; supplied by the backend.
type FieldSchema struct {
	Variable    string    `json:"variable"`
	Datatype    FieldType `json:"datatype"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

// AgentDefinition is the backend's description of an agent: identity plus the
// ordered input schema its form is generated from.
type AgentDefinition struct {
	ID          string        `json:"agent_id"`
	Name        string        `json:"agent_name"`
	Description string        `json:"description"`
	Fields      []FieldSchema `json:"fields"`
	GradeLevel  int           `json:"grade_level,omitempty"`
}

// InputPair is one recorded form input of a past execution.
type InputPair struct {
	Variable string `json:"variable"`
	Value    string `json:"variable_value"`
}

// HistoryItem is one execution record. Created server-side on each agent
// execution; belongs to exactly one thread.
type HistoryItem struct {
	ExecutionID string      `json:"execution_id"`
	ThreadID    string      `json:"thread_id"`
	UserInputs  []InputPair `json:"user_inputs"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Filename    string      `json:"filename,omitempty"`
}

// Timestamp returns the item's effective time: updatedAt falling back to
// createdAt.
func (h HistoryItem) Timestamp() time.Time {
	if !h.UpdatedAt.IsZero() {
		return h.UpdatedAt
	}
	return h.CreatedAt
}

// Input returns the recorded value for a variable, if present.
func (h HistoryItem) Input(variable string) (string, bool) {
	for _, p := range h.UserInputs {
		if p.Variable == variable {
			return p.Value, true
		}
	}
	return "", false
}

// FileMeta describes a previously-uploaded file attached to an execution.
// SignedURL is preferred over FileURL for display when both are present.
type FileMeta struct {
	FileName  string `json:"file_name"`
	FileURL   string `json:"file_url"`
	SignedURL string `json:"signed_url"`
}

// DisplayURL resolves the URL to show for a stored file.
func (f FileMeta) DisplayURL() string {
	if f.SignedURL != "" {
		return f.SignedURL
	}
	return f.FileURL
}

// ExecutionDetail is the full record of one past execution as returned by
// GET /api/get-agent-history/{executionID}. The backend has shipped the
// recorded inputs under several different keys over time; Inputs() folds
// them into one view.
type ExecutionDetail struct {
	UserInputs       []InputPair     `json:"user_inputs"`
	AgentInputs      []InputPair     `json:"Agent_inputs"`
	LegacyInputs     []InputPair     `json:"inputs"`
	ExecutionData    *ExecutionData  `json:"execution_data"`
	AgentOutputs     json.RawMessage `json:"agent_outputs"`
	FileData         []FileMeta      `json:"file_data"`
	ThreadID         string          `json:"thread_id"`
	ResponseRating   int             `json:"response_rating,omitempty"`
	ResponseFeedback string          `json:"response_feedback,omitempty"`
}

// ExecutionData is the nested legacy wrapper some records use.
type ExecutionData struct {
	UserInputs []InputPair `json:"user_inputs"`
}

// Inputs returns the recorded inputs from whichever key the record carries,
// checked in the order the backend introduced them.
func (d ExecutionDetail) Inputs() []InputPair {
	switch {
	case len(d.UserInputs) > 0:
		return d.UserInputs
	case len(d.AgentInputs) > 0:
		return d.AgentInputs
	case len(d.LegacyInputs) > 0:
		return d.LegacyInputs
	case d.ExecutionData != nil:
		return d.ExecutionData.UserInputs
	}
	return nil
}

// SharedArtifact is a publicly shared execution, fetched without
// authentication via its share UUID.
type SharedArtifact struct {
	UUID         string          `json:"uuid"`
	CreatedAt    time.Time       `json:"createdAt"`
	UserInputs   []InputPair     `json:"user_inputs"`
	AgentOutputs json.RawMessage `json:"agent_outputs"`
	Filename     string          `json:"filename,omitempty"`
}
