package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrSecureStoreUnavailable reports that the keychain could not be read.
	ErrSecureStoreUnavailable = errors.New("secure credential store unavailable")

	// ErrCredentialUnavailable reports that no source yielded a valid, unexpired record.
	ErrCredentialUnavailable = errors.New("credentials unavailable")
)

// DecodeError reports malformed credential content.
type DecodeError struct {
	// Origin names the content that failed to decode, e.g. a file path or "keychain".
	Origin string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding credentials from %s: %v", e.Origin, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Unavailable wraps cause so that it matches ErrCredentialUnavailable while
// keeping cause inspectable with errors.Is and errors.As.
func Unavailable(cause error) error {
	if cause == nil {
		return ErrCredentialUnavailable
	}
	return fmt.Errorf("%w: %w", ErrCredentialUnavailable, cause)
}
