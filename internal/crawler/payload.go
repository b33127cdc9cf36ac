package crawler

import (
	"encoding/json"
	"fmt"
)

// Validate checks the payload fields a worker relies on.
func (p Payload) Validate() error {
	if p.TaskID <= 0 {
		return fmt.Errorf("%w: task_id must be > 0", ErrInvalidInput)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown task_type %q", ErrInvalidInput, p.Kind)
	}
	if p.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	return nil
}

// EncodePayload renders the queue wire format.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses and validates the queue wire format.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
