package model

import "encoding/json"

// Payload is a tagged unstructured JSON value for analyst-authored free-form
// fields (matched document info, success criteria). It keeps the rest of the
// model strictly typed while round-tripping arbitrary JSON. An absent payload
// serializes as an explicit null, never as a missing field.
type Payload struct {
	Raw   json.RawMessage
	Valid bool
}

// NewPayload wraps raw JSON in a valid Payload. A nil or literal-null input
// yields the null payload.
func NewPayload(raw json.RawMessage) Payload {
	if len(raw) == 0 || string(raw) == "null" {
		return Payload{}
	}
	return Payload{Raw: raw, Valid: true}
}

// MarshalJSON emits the wrapped value, or null when the payload is absent.
func (p Payload) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// UnmarshalJSON accepts any JSON value; null produces the absent payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Payload{}
		return nil
	}
	p.Raw = append(p.Raw[:0], data...)
	p.Valid = true
	return nil
}
