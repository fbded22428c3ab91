package schemas

import (
	"errors"
	"fmt"
)

// ErrPointLookupUnavailable is returned by sessions that have no rendered
// geometry (e.g. a parsed static document), where asking which element sits
// at a coordinate is meaningless.
var ErrPointLookupUnavailable = errors.New("point lookup is not available in this session")

// SessionError marks a failure of the live session itself rather than of a
// single query or action: the engine is unreachable, the browser target is
// gone, the transport closed. Callers detect it with errors.As and abort the
// remainder of a run instead of recovering per action.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failure during %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// IsSessionError reports whether err wraps a SessionError anywhere in its
// chain.
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}
