// Package channel implements the Phoenix-channel-style 5-tuple wire
// envelope (join_ref, msg_ref, topic, event, payload) and the
// per-session reference counter used to generate msg_refs.
package channel

import (
	"encoding/json"
	"errors"
)

// ErrInvalidFormat is returned when a frame does not decode to a
// 5-element array with string topic/event fields.
var ErrInvalidFormat = errors.New("channel: invalid envelope format")

// Envelope is the ordered 5-tuple (join_ref, msg_ref, topic, event,
// payload) framed on the wire as a JSON array.
type Envelope struct {
	JoinRef *string
	MsgRef  *string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// ParseEnvelope decodes a Text frame's bytes into an Envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var raw [5]json.RawMessage
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return Envelope{}, ErrInvalidFormat
	}
	if len(arr) != 5 {
		return Envelope{}, ErrInvalidFormat
	}
	copy(raw[:], arr)

	joinRef, err := nullableString(raw[0])
	if err != nil {
		return Envelope{}, ErrInvalidFormat
	}
	msgRef, err := nullableString(raw[1])
	if err != nil {
		return Envelope{}, ErrInvalidFormat
	}

	var topic, event string
	if err := json.Unmarshal(raw[2], &topic); err != nil {
		return Envelope{}, ErrInvalidFormat
	}
	if err := json.Unmarshal(raw[3], &event); err != nil {
		return Envelope{}, ErrInvalidFormat
	}

	return Envelope{
		JoinRef: joinRef,
		MsgRef:  msgRef,
		Topic:   topic,
		Event:   event,
		Payload: raw[4],
	}, nil
}

// nullableString unmarshals a JSON value that must be either a string or
// null.
func nullableString(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Encode serializes the envelope back to its 5-element wire array.
func (e Envelope) Encode() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([5]interface{}{e.JoinRef, e.MsgRef, e.Topic, e.Event, payload})
}

// IsReply reports whether this envelope is a phx_reply frame.
func (e Envelope) IsReply() bool {
	return e.Event == "phx_reply"
}

type replyPayload struct {
	Status string `json:"status"`
}

// ReplyStatus returns the reply's status field ("ok"/"error"), or empty
// string if this isn't a reply or the payload has no status.
func (e Envelope) ReplyStatus() string {
	if !e.IsReply() {
		return ""
	}
	var p replyPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ""
	}
	return p.Status
}

// ReplyOk reports whether this is a reply with status "ok".
func (e Envelope) ReplyOk() bool {
	return e.ReplyStatus() == "ok"
}

// ReplyReason extracts payload.response.reason from an error reply,
// defaulting to "unknown" if absent.
func (e Envelope) ReplyReason() string {
	var p struct {
		Response struct {
			Reason string `json:"reason"`
		} `json:"response"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.Response.Reason == "" {
		return "unknown"
	}
	return p.Response.Reason
}
