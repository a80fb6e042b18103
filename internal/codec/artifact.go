package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Encode writes values as a single JSON array, separating elements with ", ".
// An empty or nil slice is written as [].
func Encode(w io.Writer, values []int64) error {
	buf := make([]byte, 0, 2+len(values)*6)
	buf = append(buf, '[')
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ',', ' ')
		}
		buf = strconv.AppendInt(buf, v, 10)
	}
	buf = append(buf, ']')
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Decode reads one JSON array of integers from r. Anything else, including
// null, floats, quoted numbers or trailing data, is an ErrParse.
func Decode(r io.Reader) ([]int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return decodeArray(data)
}

// Save writes values to path, replacing any existing file. The parent directory
// must already exist.
func Save(path string, values []int64) error {
	var buf bytes.Buffer
	if err := Encode(&buf, values); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Load reads the artifact at path.
func Load(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	values, err := decodeArray(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}

func decodeArray(data []byte) ([]int64, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrParse)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return parseIntegers(raw)
}

func parseIntegers(raw []json.RawMessage) ([]int64, error) {
	values := make([]int64, len(raw))
	for i, elem := range raw {
		v, err := strconv.ParseInt(string(bytes.TrimSpace(elem)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d is not an integer: %s", ErrParse, i, elem)
		}
		values[i] = v
	}
	return values, nil
}
