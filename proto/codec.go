package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// LineEnding terminates every encoded message.
const LineEnding = "\r\n"

// DecodeError reports a line that is not a valid message. The connection that
// produced it stays usable.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message %q: %v", truncate(e.Line, 64), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode renders msg as one CRLF-terminated JSON line. Every field must be
// valid UTF-8; JSON would otherwise replace the bad bytes and the line would
// no longer decode to msg.
func Encode(msg Message) ([]byte, error) {
	if err := checkUTF8(msg); err != nil {
		return nil, err
	}
	if msg.Commands == nil {
		msg.Commands = Commands{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(data, LineEnding...), nil
}

func checkUTF8(msg Message) error {
	fields := []struct {
		name, value string
	}{
		{"key", string(msg.Key)},
		{"action", string(msg.Action)},
		{"data", msg.Data},
		{"response", msg.Response},
	}
	for _, a := range msg.Commands {
		fields = append(fields, struct{ name, value string }{"commands", string(a)})
	}
	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("encode message: %s is not valid UTF-8", f.name)
		}
	}
	return nil
}

// Decode parses one line. Trailing CR/LF is ignored.
func Decode(line []byte) (Message, error) {
	trimmed := bytes.TrimRight(line, LineEnding)
	if len(bytes.TrimSpace(trimmed)) == 0 {
		return Message{}, &DecodeError{Line: line, Err: fmt.Errorf("empty line")}
	}
	if trimmed = bytes.TrimSpace(trimmed); trimmed[0] != '{' {
		return Message{}, &DecodeError{Line: line, Err: fmt.Errorf("not a JSON object")}
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, &DecodeError{Line: line, Err: err}
	}
	// A peer may repeat an action; the menu keeps the last position.
	if msg.Commands != nil {
		msg.Commands = NewCommands(msg.Commands...)
	}
	return msg, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
