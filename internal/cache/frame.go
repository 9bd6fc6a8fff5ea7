// Package cache holds the per-session record of agent traffic: one Entry
// per request, each an append-only log of the JSON frames the agent
// emitted, observable through replayable streams.
package cache

import (
	"encoding/json"
	"time"
)

// MessageType is the agent frame discriminator.
type MessageType string

const (
	MessageSystem      MessageType = "system"
	MessageUser        MessageType = "user"
	MessageAssistant   MessageType = "assistant"
	MessageStreamEvent MessageType = "stream_event"
	MessageResult      MessageType = "result"
	MessageUnknown     MessageType = "unknown"
)

// Frame is one JSON object from the agent's output stream. Data retains
// the raw object verbatim; the orchestrator never interprets it beyond
// the type discriminator and a few well-known fields.
type Frame struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// frameEnvelope is the subset of fields iris reads out of agent frames.
type frameEnvelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
}

// ParseFrame classifies one decoded line from the agent. Frames with an
// unrecognized type are retained verbatim as MessageUnknown.
func ParseFrame(line []byte) (Frame, error) {
	var env frameEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Frame{}, err
	}

	frameType := MessageUnknown
	switch MessageType(env.Type) {
	case MessageSystem, MessageUser, MessageAssistant, MessageStreamEvent, MessageResult:
		frameType = MessageType(env.Type)
	}

	data := make(json.RawMessage, len(line))
	copy(data, line)

	return Frame{
		Timestamp: time.Now(),
		Type:      frameType,
		Data:      data,
	}, nil
}

// Subtype extracts the frame's subtype field, if present.
func (f Frame) Subtype() string {
	var env frameEnvelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return ""
	}
	return env.Subtype
}

// ResultText extracts the result text from a result frame.
func (f Frame) ResultText() string {
	var env frameEnvelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return ""
	}
	return env.Result
}

// IsInit reports whether this is the system/init frame that signals the
// agent finished starting up.
func (f Frame) IsInit() bool {
	return f.Type == MessageSystem && f.Subtype() == "init"
}
