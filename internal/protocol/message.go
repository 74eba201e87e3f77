// Package protocol defines the messages exchanged between the host coordinator
// and the runtime agent inside each isolated context.
//
// A Message is a channel name plus an ordered list of arguments. Arguments
// must be serializable: every message crossing a context boundary is encoded
// with the codec and decoded on the other side, so only JSON-compatible values
// (nil, bool, numbers, strings, []any, map[string]any) survive the trip.
// Integers decode as int64; use Int64 to read ids back out of a payload.
package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/bytedance/sonic"
)

var (
	// ErrEncode reports a payload that does not satisfy the serialization contract
	ErrEncode = errors.New("payload is not serializable")
	// ErrDecode reports a malformed frame
	ErrDecode = errors.New("malformed message frame")
)

// Message is one protocol frame
type Message struct {
	Channel string `json:"channel"`
	Args    []any  `json:"args"`
}

// New builds a message
func New(channel string, args ...any) Message {
	if args == nil {
		args = []any{}
	}
	return Message{Channel: channel, Args: args}
}

var codec = sonic.Config{UseInt64: true}.Froze()

// Encode serializes a message
func Encode(msg Message) ([]byte, error) {
	data, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, msg.Channel, err)
	}
	return data, nil
}

// Decode parses a frame produced by Encode
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := codec.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg.Channel == "" {
		return Message{}, fmt.Errorf("%w: empty channel", ErrDecode)
	}
	if msg.Args == nil {
		msg.Args = []any{}
	}
	return msg, nil
}

// Normalize round-trips args through the codec, yielding exactly what the
// receiving side will observe.
func Normalize(args []any) ([]any, error) {
	data, err := Encode(New("normalize", args...))
	if err != nil {
		return nil, err
	}
	msg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return msg.Args, nil
}

// Int64 reads an integer argument. Whole floats are accepted because values
// produced by script engines are often float64.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return Int64(float64(n))
	default:
		return 0, false
	}
}

// String reads a string argument
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Text renders a failure reason argument as text
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprint(t)
	}
}
