// Package history is the view model for an agent's execution history:
// executions grouped into conversation threads, newest first, with one
// selected execution highlighted and per-thread version expansion.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/agenthub-ai/agenthub/internal/api"
	"github.com/agenthub-ai/agenthub/internal/model"
)

// bookkeepingVars are internal variables the backend records alongside user
// inputs; they are dropped before display.
var bookkeepingVars = map[string]bool{
	"agent_id":                  true,
	"Agent_inputs":              true,
	model.StructuredOutputField: true,
}

// Fetcher loads the raw per-agent history. Satisfied by *api.Client.
type Fetcher interface {
	History(ctx context.Context, agentID string) (api.ThreadGroup, error)
}

// Thread is one conversation thread prepared for display. Items are ordered
// newest first; Items[0] is the thread's current display state and the rest
// are versions shown only on expansion.
type Thread struct {
	ID    string
	Items []model.HistoryItem
}

// Latest returns the thread's current display item.
func (t Thread) Latest() model.HistoryItem { return t.Items[0] }

// HasVersions reports whether the thread has a version affordance.
func (t Thread) HasVersions() bool { return len(t.Items) > 1 }

// Model owns the history list state. Safe for concurrent use.
type Model struct {
	log      *slog.Logger
	fetch    Fetcher
	onSelect func(ctx context.Context, executionID string)

	mu       sync.Mutex
	threads  []Thread
	selected string
	expanded map[string]bool
	errMsg   string
}

// New creates an empty Model. onSelect is invoked when the user picks an
// execution; the owner rehydrates the form and result view from it.
func New(logger *slog.Logger, fetch Fetcher, onSelect func(ctx context.Context, executionID string)) *Model {
	return &Model{
		log:      logger,
		fetch:    fetch,
		onSelect: onSelect,
		expanded: make(map[string]bool),
	}
}

// Fetch loads and replaces the whole thread map atomically. userTriggered
// refreshes (e.g. right after a submission) additionally select the latest
// item across all threads; passive loads never steal the selection.
func (m *Model) Fetch(ctx context.Context, agentID string, userTriggered bool) error {
	if agentID == "" {
		return fmt.Errorf("history: agent id is required")
	}

	raw, err := m.fetch.History(ctx, agentID)
	if err != nil {
		m.mu.Lock()
		m.errMsg = api.UserMessage(err)
		m.mu.Unlock()
		m.log.Error("history: fetch failed", "agent_id", agentID, "error", err)
		return err
	}

	threads := buildThreads(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = threads
	m.errMsg = ""
	if userTriggered {
		m.selectLatestLocked()
	}
	return nil
}

// buildThreads normalizes raw history into display threads: bookkeeping
// variables dropped, versions newest-first within each thread, threads
// ordered newest-representative-first.
func buildThreads(raw api.ThreadGroup) []Thread {
	threads := make([]Thread, 0, len(raw))
	for id, items := range raw {
		if len(items) == 0 {
			continue
		}
		cleaned := make([]model.HistoryItem, len(items))
		for i, item := range items {
			cleaned[i] = dropBookkeeping(item)
		}
		sort.SliceStable(cleaned, func(i, j int) bool {
			return cleaned[i].Timestamp().After(cleaned[j].Timestamp())
		})
		threads = append(threads, Thread{ID: id, Items: cleaned})
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].Latest().Timestamp().After(threads[j].Latest().Timestamp())
	})
	return threads
}

func dropBookkeeping(item model.HistoryItem) model.HistoryItem {
	kept := make([]model.InputPair, 0, len(item.UserInputs))
	for _, p := range item.UserInputs {
		if bookkeepingVars[p.Variable] {
			continue
		}
		kept = append(kept, p)
	}
	item.UserInputs = kept
	return item
}

// SelectLatestAcrossThreads marks the globally most recent execution as
// selected.
func (m *Model) SelectLatestAcrossThreads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectLatestLocked()
}

func (m *Model) selectLatestLocked() {
	var best *model.HistoryItem
	for i := range m.threads {
		latest := m.threads[i].Latest()
		if best == nil || latest.Timestamp().After(best.Timestamp()) {
			b := latest
			best = &b
		}
	}
	if best != nil {
		m.selected = best.ExecutionID
	}
}

// ToggleExpand flips a thread's version expansion. Pure UI state; selection
// is unaffected.
func (m *Model) ToggleExpand(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expanded[threadID] {
		delete(m.expanded, threadID)
	} else {
		m.expanded[threadID] = true
	}
}

// IsExpanded reports a thread's expansion state.
func (m *Model) IsExpanded(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expanded[threadID]
}

// Select marks an execution selected and invokes the load callback.
func (m *Model) Select(ctx context.Context, executionID string) {
	m.mu.Lock()
	m.selected = executionID
	m.mu.Unlock()
	if m.onSelect != nil {
		m.onSelect(ctx, executionID)
	}
}

// SyncSelection mirrors an externally supplied current execution id (e.g.
// the form just submitted) and auto-expands the thread containing it so the
// highlighted item is visible without an extra click. No load callback.
func (m *Model) SyncSelection(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = executionID
	for _, t := range m.threads {
		for _, item := range t.Items {
			if item.ExecutionID == executionID {
				m.expanded[t.ID] = true
				return
			}
		}
	}
}

// Selected returns the highlighted execution id, empty when none.
func (m *Model) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Threads returns the prepared display threads, newest first.
func (m *Model) Threads() []Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Thread, len(m.threads))
	copy(out, m.threads)
	return out
}

// ErrorMessage returns the displayable fetch error state, empty when the
// last fetch succeeded.
func (m *Model) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// Summary derives a short display line for an execution from its recorded
// inputs, with domain-specific shapes for the planner agents.
func Summary(item model.HistoryItem) string {
	if dest, ok := firstInput(item, "destination", "location", "travel_destination"); ok {
		if days, ok := firstInput(item, "days", "duration", "num_days"); ok {
			return fmt.Sprintf("Trip to %s (%s days)", dest, days)
		}
		return "Trip to " + dest
	}
	if diet, ok := firstInput(item, "diet_type", "dietary_preference", "diet"); ok {
		if cal, ok := firstInput(item, "calories", "calorie_target"); ok {
			return fmt.Sprintf("Diet plan (%s, %s kcal)", diet, cal)
		}
		return "Diet plan: " + diet
	}
	if goal, ok := firstInput(item, "fitness_goal", "workout_goal", "goal"); ok {
		return "Workout plan: " + goal
	}
	if policy, ok := firstInput(item, "insurance_type", "policy_type"); ok {
		return "Insurance advice: " + policy
	}
	for _, p := range item.UserInputs {
		if v := strings.TrimSpace(p.Value); v != "" {
			return truncate(v, 60)
		}
	}
	if item.Filename != "" {
		return item.Filename
	}
	return "Execution " + truncate(item.ExecutionID, 8)
}

func firstInput(item model.HistoryItem, variables ...string) (string, bool) {
	for _, v := range variables {
		if val, ok := item.Input(v); ok && strings.TrimSpace(val) != "" {
			return val, true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
