package meshcore

import (
	"errors"
	"fmt"
)

// Sentinel codec errors, per spec.md §7 CodecError taxonomy.
var (
	// ErrShortFrame indicates a frame is too short to contain its
	// declared fields.
	ErrShortFrame = errors.New("meshcore: short frame")
	// ErrUnknownCode indicates a frame's leading code byte has no known
	// decoder.
	ErrUnknownCode = errors.New("meshcore: unknown code")
)

// BadFieldError reports that a specific field failed validation during
// encode or decode (e.g. a string exceeding its byte cap).
type BadFieldError struct {
	Field string
	Cause error
}

func (e *BadFieldError) Error() string {
	return fmt.Sprintf("meshcore: bad field %q: %v", e.Field, e.Cause)
}

func (e *BadFieldError) Unwrap() error { return e.Cause }

// badField constructs a BadFieldError.
func badField(field string, cause error) error {
	return &BadFieldError{Field: field, Cause: cause}
}
