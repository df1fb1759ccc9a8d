package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// ToolStatus tracks whether a recorded tool call has produced output yet.
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolDone    ToolStatus = "done"
)

// ToolCallRecord is one recorded invocation of a named function by a
// remote agent, paired later with its output.
type ToolCallRecord struct {
	Agent     string     `json:"agent"`
	Function  string     `json:"function_name"`
	Arguments string     `json:"arguments,omitempty"`
	Status    ToolStatus `json:"status"`
	Output    string     `json:"output,omitempty"`
}

// NarrativeEntry is one line of the investigation's narrative log.
type NarrativeEntry struct {
	Kind  Kind   `json:"type"`
	Agent string `json:"agent,omitempty"`
	Text  string `json:"text"`
}

// Aggregator folds one session's events into queryable state: the
// tool-call ledger, the narrative log, and the latest graph snapshot.
// State is private to the session; within a session the ledger and log
// reflect channel arrival order.
type Aggregator struct {
	mu        sync.RWMutex
	toolCalls []ToolCallRecord
	narrative []NarrativeEntry
	graph     *GraphSnapshot
	logger    *slog.Logger
}

// NewAggregator creates an empty aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Apply dispatches one event by kind.
func (a *Aggregator) Apply(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case KindToolCall:
		p, err := decodeToolCall(ev.Data)
		if err != nil {
			// Validated at the channel boundary; drop anything that slips through.
			a.logger.Warn("Dropping malformed tool call", "agent", ev.Agent, "error", err)
			return
		}
		rec := ToolCallRecord{Agent: ev.Agent, Function: p.Function, Status: ToolPending}
		if len(p.Arguments) > 0 {
			rec.Arguments = string(p.Arguments)
		}
		a.toolCalls = append(a.toolCalls, rec)

	case KindToolOutput:
		a.resolveToolCall(ev)

	case KindMessageOutput:
		a.narrative = append(a.narrative, NarrativeEntry{Kind: ev.Kind, Agent: ev.Agent, Text: ev.Text()})
		if ev.Agent == GraphAgent && ev.IsString() {
			if snap, ok := ExtractGraph(ev.Text()); ok {
				a.graph = &snap
			}
		}

	case KindStatus, KindError, KindAgentStarted, KindAgentUpdated:
		a.narrative = append(a.narrative, NarrativeEntry{Kind: ev.Kind, Agent: ev.Agent, Text: ev.Text()})

	default:
		a.logger.Warn("Ignoring event with unrecognized type", "type", string(ev.Kind), "agent", ev.Agent)
	}
}

// resolveToolCall marks the most recent matching record done. When the
// output payload names a function, the newest record for that agent and
// function wins; otherwise the newest pending record for the agent does.
func (a *Aggregator) resolveToolCall(ev Event) {
	// Non-object payloads leave the hint empty.
	var hint struct {
		Function string `json:"function_name"`
	}
	_ = json.Unmarshal(ev.Data, &hint)

	for i := len(a.toolCalls) - 1; i >= 0; i-- {
		rec := &a.toolCalls[i]
		if rec.Agent != ev.Agent {
			continue
		}
		if hint.Function != "" {
			if rec.Function != hint.Function {
				continue
			}
		} else if rec.Status != ToolPending {
			continue
		}
		rec.Status = ToolDone
		rec.Output = ev.Text()
		return
	}
	a.logger.Warn("Tool output without a matching call", "agent", ev.Agent, "function", hint.Function)
}

// ToolCalls returns a copy of the ledger in arrival order.
func (a *Aggregator) ToolCalls() []ToolCallRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ToolCallRecord, len(a.toolCalls))
	copy(out, a.toolCalls)
	return out
}

// Narrative returns a copy of the narrative log in arrival order.
func (a *Aggregator) Narrative() []NarrativeEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]NarrativeEntry, len(a.narrative))
	copy(out, a.narrative)
	return out
}

// Graph returns the latest snapshot; ok is false when no graph has been
// extracted yet.
func (a *Aggregator) Graph() (GraphSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.graph == nil {
		return GraphSnapshot{}, false
	}
	return *a.graph, true
}

// Report returns the last narrative message emitted by the report agent,
// or an empty string when none arrived.
func (a *Aggregator) Report() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.narrative) - 1; i >= 0; i-- {
		if a.narrative[i].Kind == KindMessageOutput && a.narrative[i].Agent == ReportAgent {
			return a.narrative[i].Text
		}
	}
	return ""
}
