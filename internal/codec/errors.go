package codec

import "errors"

var (
	// ErrInvalidInput is returned when a vector cannot be quantized: a non-finite
	// element, a non-positive scale, or a product outside the int64 range.
	ErrInvalidInput = errors.New("codec: invalid input")

	// ErrIO is returned when an artifact cannot be written or read.
	ErrIO = errors.New("codec: artifact i/o failed")

	// ErrParse is returned when artifact content is not a JSON array of integers.
	ErrParse = errors.New("codec: malformed artifact")
)
