package channel

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
)

// RefCounter issues monotonically increasing decimal message references,
// starting at 1, safe for concurrent readers.
type RefCounter struct {
	next atomic.Uint64
}

// NewRefCounter returns a counter whose first Next() call returns "1".
func NewRefCounter() *RefCounter {
	c := &RefCounter{}
	c.next.Store(1)
	return c
}

// Next returns the decimal stringification of the pre-increment value
// and advances the counter.
func (c *RefCounter) Next() string {
	v := c.next.Add(1) - 1
	return strconv.FormatUint(v, 10)
}

// Builder constructs protocol envelopes for one joined channel, reusing
// the session's first-ever reference as both join_ref and the join
// frame's msg_ref.
type Builder struct {
	Topic   string
	JoinRef string
	refs    *RefCounter
}

// NewBuilder creates a Builder for topic, consuming the first reference
// as the join_ref.
func NewBuilder(topic string) *Builder {
	refs := NewRefCounter()
	joinRef := refs.Next()
	return &Builder{Topic: topic, JoinRef: joinRef, refs: refs}
}

func strPtr(s string) *string { return &s }

// Join builds the phx_join envelope.
func (b *Builder) Join(payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		JoinRef: strPtr(b.JoinRef),
		MsgRef:  strPtr(b.JoinRef),
		Topic:   b.Topic,
		Event:   "phx_join",
		Payload: raw,
	}, nil
}

// Heartbeat builds a heartbeat envelope on the "phoenix" topic with a
// fresh reference and no join_ref.
func (b *Builder) Heartbeat() Envelope {
	return Envelope{
		JoinRef: nil,
		MsgRef:  strPtr(b.refs.Next()),
		Topic:   "phoenix",
		Event:   "heartbeat",
		Payload: json.RawMessage("{}"),
	}
}

// Push builds a push envelope on the joined topic with a fresh
// reference.
func (b *Builder) Push(event string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		JoinRef: strPtr(b.JoinRef),
		MsgRef:  strPtr(b.refs.Next()),
		Topic:   b.Topic,
		Event:   event,
		Payload: raw,
	}, nil
}

// ProgressPush builds a fire-and-forget push that does not consume the
// reference counter: progress frames always use msg_ref "0" and never
// expect a reply.
func (b *Builder) ProgressPush(event string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		JoinRef: strPtr(b.JoinRef),
		MsgRef:  strPtr("0"),
		Topic:   b.Topic,
		Event:   event,
		Payload: raw,
	}, nil
}
