package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Envelope is the self-describing artifact format. It records the scale the
// values were quantized with and, optionally, the model that produced them.
type Envelope struct {
	Scale  int     `json:"scale"`
	Model  string  `json:"model,omitempty"`
	Values []int64 `json:"values"`
}

type rawEnvelope struct {
	Scale  int               `json:"scale"`
	Model  string            `json:"model,omitempty"`
	Values []json.RawMessage `json:"values"`
}

// SaveEnvelope writes env to path as a JSON object, replacing any existing file.
func SaveEnvelope(path string, env Envelope) error {
	if env.Scale <= 0 {
		return fmt.Errorf("%w: envelope scale must be positive, got %d", ErrInvalidInput, env.Scale)
	}
	if env.Values == nil {
		env.Values = []int64{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// LoadEnvelope reads an envelope artifact. A bare array is rejected.
func LoadEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

// ReadArtifact reads either artifact format. Bare arrays come back with a zero
// Scale because the format does not carry one.
func ReadArtifact(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	var env Envelope
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		env, err = decodeEnvelope(trimmed)
	} else {
		env.Values, err = decodeArray(trimmed)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: expected a JSON object", ErrParse)
	}
	var raw rawEnvelope
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if raw.Scale <= 0 {
		return Envelope{}, fmt.Errorf("%w: envelope scale must be positive, got %d", ErrParse, raw.Scale)
	}
	if raw.Values == nil {
		return Envelope{}, fmt.Errorf("%w: envelope has no values array", ErrParse)
	}
	values, err := parseIntegers(raw.Values)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Scale: raw.Scale, Model: raw.Model, Values: values}, nil
}
