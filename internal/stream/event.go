// Package stream decodes and aggregates the event frames an investigation
// session receives over its real-time channel.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind tags an event frame received over an investigation channel.
type Kind string

const (
	KindStatus        Kind = "status"
	KindError         Kind = "error"
	KindAgentStarted  Kind = "agent_started"
	KindAgentUpdated  Kind = "agent_updated"
	KindToolCall      Kind = "tool_call"
	KindToolOutput    Kind = "tool_output"
	KindMessageOutput Kind = "message_output"
)

// GraphAgent identifies the agent whose narrative payloads may embed a
// service-dependency graph document.
const GraphAgent = "neo4j"

// ReportAgent identifies the agent that emits the final investigation
// report as a narrative message.
const ReportAgent = "report"

// Event is one unit pushed over a session's channel. Agent is empty only
// for system-level status and error frames.
type Event struct {
	Kind  Kind
	Agent string
	Data  json.RawMessage
}

// Text returns the event payload as display text. JSON strings are
// unquoted; any other payload is kept as its raw JSON encoding.
func (e Event) Text() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(e.Data))
}

// IsString reports whether the payload is a JSON string.
func (e Event) IsString() bool {
	t := bytes.TrimSpace(e.Data)
	return len(t) > 0 && t[0] == '"'
}

// DecodeError reports a frame that failed validation at the channel
// boundary. One bad frame is logged and dropped; it never terminates the
// session.
type DecodeError struct {
	Kind   Kind
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return "decode event: " + e.Reason
	}
	return fmt.Sprintf("decode %s event: %s", e.Kind, e.Reason)
}

// ToolCallPayload names the function a remote agent invoked.
type ToolCallPayload struct {
	Function  string          `json:"function_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Decode parses and validates one JSON frame from the channel.
// Frames with an unrecognized type decode successfully; the aggregator
// logs and ignores them.
func Decode(frame []byte) (Event, error) {
	var raw struct {
		Type  string          `json:"type"`
		Agent *string         `json:"agent"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Event{}, &DecodeError{Reason: err.Error()}
	}
	if raw.Type == "" {
		return Event{}, &DecodeError{Reason: "missing type"}
	}

	ev := Event{Kind: Kind(raw.Type), Data: raw.Data}
	if raw.Agent != nil {
		ev.Agent = *raw.Agent
	}

	switch ev.Kind {
	case KindStatus, KindError:
		// System frames carry no agent.
	case KindAgentStarted, KindAgentUpdated, KindToolCall, KindToolOutput, KindMessageOutput:
		if ev.Agent == "" {
			return Event{}, &DecodeError{Kind: ev.Kind, Reason: "missing agent"}
		}
	}

	if ev.Kind == KindToolCall {
		if _, err := decodeToolCall(ev.Data); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

func decodeToolCall(data json.RawMessage) (ToolCallPayload, error) {
	var p ToolCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ToolCallPayload{}, &DecodeError{Kind: KindToolCall, Reason: err.Error()}
	}
	if p.Function == "" {
		return ToolCallPayload{}, &DecodeError{Kind: KindToolCall, Reason: "missing function_name"}
	}
	return p, nil
}
