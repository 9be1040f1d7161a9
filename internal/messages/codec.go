package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("payload is not valid UTF-8")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeError reports message bytes that could not be turned into a payload.
type DecodeError struct {
	Subject Subject
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Subject, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes an event to UTF-8 JSON.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Subject(), err)
	}
	return data, nil
}

// Decode parses UTF-8 JSON bytes into the payload type E. A leading byte
// order mark is tolerated.
func Decode[E Event](data []byte) (E, error) {
	var out E
	subject := SubjectOf[E]()

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return out, &DecodeError{Subject: subject, Err: errInvalidUTF8}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &DecodeError{Subject: subject, Err: err}
	}
	return out, nil
}
