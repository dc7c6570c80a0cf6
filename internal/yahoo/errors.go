package yahoo

import "fmt"

// ValidationError reports an unusable symbol list, detected before any
// network activity.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthError reports a failed crumb/cookie acquisition. The attempt that
// needed the credentials fails with it; nothing is retried underneath.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("acquiring session credentials: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// StatusError reports a download that ended with an HTTP status the fetch
// state machine does not absorb, including a second 401 after a refresh.
type StatusError struct {
	Symbol string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("download %s -> %d", e.Symbol, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}
