// Package command defines the wire-level command and reply envelopes
// exchanged between the gateway and the worker over the shared broker.
package command

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Channel names on the shared broker. All gateway instances publish
// commands to CommandChannel; replies travel over a per-request channel
// derived from the correlation id.
const (
	CommandChannel    = "grooveline:commands"
	replyChannelStem  = "grooveline:response:"
)

// ReplyChannel returns the reply channel name for a correlation id.
func ReplyChannel(correlationID string) string {
	return replyChannelStem + correlationID
}

// Errors
var (
	ErrValidation  = errors.New("command validation failed")
	ErrUnknownType = errors.New("unknown command type")
)

// Type identifies a command. The set is closed: receivers reject unknown
// types without crashing the dispatch loop.
type Type string

const (
	TypePlay            Type = "play"
	TypePause           Type = "pause"
	TypeResume          Type = "resume"
	TypeStop            Type = "stop"
	TypeSkip            Type = "skip"
	TypeSeek            Type = "seek"
	TypeSetVolume       Type = "setVolume"
	TypeSetLoopMode     Type = "setLoopMode"
	TypeAddToQueue      Type = "addToQueue"
	TypeRemove          Type = "remove"
	TypeMove            Type = "move"
	TypeShuffle         Type = "shuffle"
	TypeClear           Type = "clear"
	TypeQueryNowPlaying Type = "queryNowPlaying"
	TypeQueryQueue      Type = "queryQueue"
	TypeSearch          Type = "search"
	TypeDisconnect      Type = "disconnect"
)

// Valid reports whether t is a member of the closed command set.
func (t Type) Valid() bool {
	switch t {
	case TypePlay, TypePause, TypeResume, TypeStop, TypeSkip, TypeSeek,
		TypeSetVolume, TypeSetLoopMode, TypeAddToQueue, TypeRemove,
		TypeMove, TypeShuffle, TypeClear, TypeQueryNowPlaying,
		TypeQueryQueue, TypeSearch, TypeDisconnect:
		return true
	default:
		return false
	}
}

// IsQuery reports whether t is a read-only query. Queries never touch a
// session's event stream and are answered from its current snapshot or a
// cached projection.
func (t Type) IsQuery() bool {
	return t == TypeQueryNowPlaying || t == TypeQueryQueue || t == TypeSearch
}

// Envelope is the immutable command envelope published on the command
// channel. CorrelationID is present only when the caller expects a reply.
type Envelope struct {
	Type          Type           `json:"type"`
	SessionKey    string         `json:"sessionKey"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Marshal serializes the envelope for publishing.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal command envelope")
	}
	return data, nil
}

// UnmarshalEnvelope parses a wire payload into an envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, errors.Wrap(err, "failed to unmarshal command envelope")
	}
	return e, nil
}

// Reply is the envelope published on the caller's reply channel. It is
// delivered at most once; absence of a reply means the outcome is unknown.
type Reply struct {
	CorrelationID string          `json:"correlationId"`
	OK            bool            `json:"ok"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorReason   string          `json:"errorReason,omitempty"`
}

// OKReply builds a successful reply carrying an optional result value.
func OKReply(correlationID string, result any) (Reply, error) {
	r := Reply{CorrelationID: correlationID, OK: true}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return Reply{}, errors.Wrap(err, "failed to marshal reply result")
		}
		r.Result = data
	}
	return r, nil
}

// ErrorReply builds a rejection reply with a reason.
func ErrorReply(correlationID, reason string) Reply {
	return Reply{CorrelationID: correlationID, OK: false, ErrorReason: reason}
}

// Marshal serializes the reply for publishing.
func (r Reply) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal reply")
	}
	return data, nil
}

// UnmarshalReply parses a wire payload into a reply.
func UnmarshalReply(data []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return Reply{}, errors.Wrap(err, "failed to unmarshal reply")
	}
	return r, nil
}
