package smtp

import (
	"errors"
	"fmt"
)

// ProtocolError reports an unexpected response code at a step where a
// wrong code would corrupt the session state.
type ProtocolError struct {
	Command string
	Code    string
	Line    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response to %s: %s", e.Command, e.Line)
}

// AuthError reports a failed AUTH LOGIN exchange.
type AuthError struct {
	Code string
	Line string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Line)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
