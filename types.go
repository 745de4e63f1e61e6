package agenthub

import (
	"time"

	"github.com/agenthub-ai/agenthub/internal/history"
	"github.com/agenthub-ai/agenthub/internal/model"
)

// Field is the public representation of one agent input field.
// It is a curated view of the internal schema types for use by embedders.
type Field struct {
	Variable    string
	Datatype    string
	Description string
	Required    bool
}

// Agent is the public representation of an agent definition.
type Agent struct {
	ID          string
	Name        string
	Description string
	Fields      []Field
	GradeLevel  int
}

// HistoryEntry is one past execution prepared for display.
type HistoryEntry struct {
	ExecutionID string
	Summary     string
	Timestamp   time.Time
}

// Thread is one conversation thread of past executions, newest first.
// Entries[0] is the thread's current state; the rest are versions shown on
// expansion.
type Thread struct {
	ID       string
	Entries  []HistoryEntry
	Expanded bool
}

// Result is a completed agent execution.
type Result struct {
	ExecutionID string
	ThreadID    string
	// Output is the rendered document text.
	Output string
}

// SharedView is a publicly shared execution resolved by its share UUID.
type SharedView struct {
	UUID      string
	CreatedAt time.Time
	Filename  string
	Inputs    map[string]string
	// Output is the rendered document text, produced by the same renderer
	// as live results.
	Output string
}

// CreditBalance is the account's remaining token balance.
type CreditBalance struct {
	RemainingTokens int
}

// Conversion helpers live here because the root package is the only place
// that sees both the public types and the internal ones.

func toPublicAgent(def model.AgentDefinition) Agent {
	fields := make([]Field, len(def.Fields))
	for i, f := range def.Fields {
		fields[i] = Field{
			Variable:    f.Variable,
			Datatype:    string(f.Datatype),
			Description: f.Description,
			Required:    f.Required,
		}
	}
	return Agent{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Fields:      fields,
		GradeLevel:  def.GradeLevel,
	}
}

func toPublicThreads(threads []history.Thread, expanded func(string) bool) []Thread {
	out := make([]Thread, len(threads))
	for i, t := range threads {
		entries := make([]HistoryEntry, len(t.Items))
		for j, item := range t.Items {
			entries[j] = HistoryEntry{
				ExecutionID: item.ExecutionID,
				Summary:     history.Summary(item),
				Timestamp:   item.Timestamp(),
			}
		}
		out[i] = Thread{ID: t.ID, Entries: entries, Expanded: expanded(t.ID)}
	}
	return out
}

func toPublicInputs(pairs []model.InputPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Variable] = p.Value
	}
	return out
}
