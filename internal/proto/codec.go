package proto

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an envelope for a binary transport frame.
func Encode(e Envelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses a binary frame into an envelope. Any malformed input yields
// an error wrapping ErrDecode.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
