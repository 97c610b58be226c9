package notify

import "errors"

// permanentError marks a channel rejection that must not be retried
type permanentError struct {
	err error
}

func (e permanentError) Error() string {
	if e.err == nil {
		return "permanent delivery error"
	}
	return e.err.Error()
}

func (e permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so the dispatcher records the delivery as bounced
// instead of scheduling a retry
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err carries the permanent marker
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
