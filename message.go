package plasmite

import (
	"encoding/json"
	"strconv"
	"time"
)

// Message is the decoded form of the JSON envelope a pool stores:
//
//	{"seq": <uint>, "time": "<RFC3339 offset>", "data": <any>, "meta": {"tags": [...]}}
//
// Seq is assigned by the pool and strictly increases across consecutive
// messages returned by any one cursor. Raw preserves the original
// envelope bytes.
type Message struct {
	Seq  uint64
	Time time.Time
	Data json.RawMessage
	Tags []string
	Raw  []byte
}

// messageEnvelope mirrors the wire layout for both directions.
type messageEnvelope struct {
	Seq  uint64          `json:"seq"`
	Time string          `json:"time"`
	Data json.RawMessage `json:"data"`
	Meta messageMeta     `json:"meta"`
}

type messageMeta struct {
	Tags []string `json:"tags"`
}

// DecodeMessage parses an envelope. Decoding is local validation: it
// fails with ErrInvalidArgument when seq is not a non-negative integer
// or time is not an offset-bearing timestamp. Absent or malformed tags
// default to empty rather than failing.
func DecodeMessage(raw []byte) (*Message, error) {
	var envelope struct {
		Seq  *json.Number    `json:"seq"`
		Time *string         `json:"time"`
		Data json.RawMessage `json:"data"`
		Meta struct {
			Tags json.RawMessage `json:"tags"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, InvalidArgumentError("decode message: " + err.Error())
	}
	if envelope.Seq == nil {
		return nil, InvalidArgumentError("message seq is required")
	}
	seq, err := strconv.ParseUint(envelope.Seq.String(), 10, 64)
	if err != nil {
		return nil, InvalidArgumentError("message seq must be a non-negative integer")
	}
	if envelope.Time == nil {
		return nil, InvalidArgumentError("message time is required")
	}
	parsedTime, err := time.Parse(time.RFC3339Nano, *envelope.Time)
	if err != nil {
		return nil, InvalidArgumentError("message time must be an RFC3339 timestamp: " + err.Error())
	}

	var tags []string
	if len(envelope.Meta.Tags) > 0 {
		if err := json.Unmarshal(envelope.Meta.Tags, &tags); err != nil {
			tags = nil
		}
	}
	if tags == nil {
		tags = []string{}
	}

	return &Message{
		Seq:  seq,
		Time: parsedTime,
		Data: envelope.Data,
		Tags: tags,
		Raw:  append([]byte(nil), raw...),
	}, nil
}

// EncodeMessage builds envelope bytes from parts. The inverse of
// DecodeMessage for any valid input.
func EncodeMessage(seq uint64, at time.Time, data json.RawMessage, tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(messageEnvelope{
		Seq:  seq,
		Time: at.Format(time.RFC3339Nano),
		Data: data,
		Meta: messageMeta{Tags: tags},
	})
}

// HasTags reports whether the message carries every required tag,
// order-independent. An empty requirement matches everything.
func (m *Message) HasTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(m.Tags))
	for _, tag := range m.Tags {
		have[tag] = struct{}{}
	}
	for _, tag := range required {
		if _, ok := have[tag]; !ok {
			return false
		}
	}
	return true
}
