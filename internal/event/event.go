package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates event variants on the wire. It is carried in the
// event_type field of every serialized event.
type Type string

const (
	// coarse lifecycle events for the agent creation workflow
	TypeProcessingStart    Type = "processing_start"
	TypeProcessingProgress Type = "processing_progress"
	TypeProcessingComplete Type = "processing_complete"
	TypeProcessingError    Type = "processing_error"

	// fine-grained events for streaming agent runs
	TypeToolCall      Type = "tool_call"
	TypeToolOutput    Type = "tool_output"
	TypeLLMOutput     Type = "llm_output"
	TypeAgentComplete Type = "agent_complete"
	TypeAgentError    Type = "agent_error"
)

var knownTypes = map[Type]bool{
	TypeProcessingStart:    true,
	TypeProcessingProgress: true,
	TypeProcessingComplete: true,
	TypeProcessingError:    true,
	TypeToolCall:           true,
	TypeToolOutput:         true,
	TypeLLMOutput:          true,
	TypeAgentComplete:      true,
	TypeAgentError:         true,
}

// Terminal reports whether t ends a run's event stream. No events for the
// same run id are published after a terminal event.
func (t Type) Terminal() bool {
	switch t {
	case TypeProcessingComplete, TypeProcessingError, TypeAgentComplete, TypeAgentError:
		return true
	}
	return false
}

// ChannelKind selects which pub/sub channel a run's events travel on.
type ChannelKind string

const (
	// KindProgress carries token-level streaming events for run jobs.
	KindProgress ChannelKind = "agent_progress"
	// KindProcessing carries lifecycle events for the creation workflow.
	KindProcessing ChannelKind = "agent_processing"
)

// ChannelName derives the pub/sub channel name for a run. The derivation
// must be identical on the publish and subscribe sides or events are
// silently lost.
func ChannelName(runID string, kind ChannelKind) string {
	return fmt.Sprintf("%s:%s", kind, runID)
}

// Event is an immutable fact about job progress. Variant-specific fields
// live in Data; Type tells the receiver how to interpret them.
type Event struct {
	Type      Type           `json:"event_type"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func newEvent(t Type, runID, message string, data map[string]any) *Event {
	return &Event{
		Type:      t,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      data,
	}
}

func NewProcessingStart(runID, status string) *Event {
	return newEvent(TypeProcessingStart, runID, "Processing started", map[string]any{
		"status": status,
	})
}

func NewProcessingProgress(runID, status, step string) *Event {
	return newEvent(TypeProcessingProgress, runID, "Processing "+step, map[string]any{
		"status": status,
		"step":   step,
	})
}

func NewProcessingComplete(runID, status string) *Event {
	return newEvent(TypeProcessingComplete, runID, "Processing completed", map[string]any{
		"status": status,
	})
}

func NewProcessingError(runID, status, errMsg string) *Event {
	return newEvent(TypeProcessingError, runID, "Processing failed", map[string]any{
		"status":        status,
		"error_message": errMsg,
	})
}

func NewToolCall(runID, toolName string, toolArgs map[string]any) *Event {
	if toolArgs == nil {
		toolArgs = map[string]any{}
	}
	return newEvent(TypeToolCall, runID, "Tool called", map[string]any{
		"tool_name": toolName,
		"tool_args": toolArgs,
	})
}

func NewToolOutput(runID, toolName string, output any) *Event {
	return newEvent(TypeToolOutput, runID, "Tool output received", map[string]any{
		"tool_name": toolName,
		"output":    output,
	})
}

func NewLLMOutput(runID, content string, isComplete bool) *Event {
	return newEvent(TypeLLMOutput, runID, "LLM output received", map[string]any{
		"content":     content,
		"is_complete": isComplete,
	})
}

func NewAgentComplete(runID, finalOutput string) *Event {
	return newEvent(TypeAgentComplete, runID, "Agent run completed", map[string]any{
		"final_output": finalOutput,
	})
}

func NewAgentError(runID, errMsg, errType string) *Event {
	return newEvent(TypeAgentError, runID, "Agent run failed", map[string]any{
		"error_message": errMsg,
		"error_type":    errType,
	})
}

// Encode serializes the event to its canonical wire form.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire payload back into an Event. It rejects payloads
// without a known event_type discriminant so that garbage on a channel
// cannot masquerade as progress.
func Decode(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if !knownTypes[e.Type] {
		return nil, fmt.Errorf("decode event: unknown event_type %q", e.Type)
	}
	return &e, nil
}
