package agent

import (
	"encoding/json"
	"fmt"
)

// EventType enumerates the voice-agent event stream.
type EventType string

const (
	EventTranscript    EventType = "transcript"
	EventSpeakingStart EventType = "speech-start"
	EventSpeakingEnd   EventType = "speech-end"
	EventCallStart     EventType = "call-start"
	EventCallEnd       EventType = "call-end"
	EventError         EventType = "error"
)

// SpeakerRole identifies who produced a transcript fragment.
type SpeakerRole string

const (
	SpeakerAssistant SpeakerRole = "assistant"
	SpeakerUser      SpeakerRole = "user"
)

// Event is one message from the voice-agent session. Transcript events carry
// a role, text, and finality; only final fragments are durable.
type Event struct {
	Type    EventType   `json:"type"`
	Role    SpeakerRole `json:"role,omitempty"`
	Text    string      `json:"text,omitempty"`
	Final   bool        `json:"final,omitempty"`
	CallID  string      `json:"callId,omitempty"`
	Message string      `json:"message,omitempty"`
}

// DecodeError describes a malformed agent event.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DecodeEvent parses and validates a wire event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, &DecodeError{Code: "invalid_json", Message: err.Error()}
	}
	switch ev.Type {
	case EventTranscript:
		if ev.Role != SpeakerAssistant && ev.Role != SpeakerUser {
			return Event{}, &DecodeError{Code: "invalid_role", Message: fmt.Sprintf("transcript role %q", ev.Role)}
		}
	case EventSpeakingStart, EventSpeakingEnd, EventCallStart, EventCallEnd, EventError:
	default:
		return Event{}, &DecodeError{Code: "unknown_type", Message: fmt.Sprintf("event type %q", ev.Type)}
	}
	return ev, nil
}
