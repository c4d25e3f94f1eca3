package dispatch

import "errors"

// Classification is by capability, not by type: anything carrying
// Permanent() == true is dead-lettered immediately, anything carrying
// Temporary() == true is recycled through the retry exchange. The consumer
// is the only place that inspects these markers.

type permanentMarker interface{ Permanent() bool }

type temporaryMarker interface{ Temporary() bool }

// IsTerminal reports whether err will not change outcome on redelivery.
func IsTerminal(err error) bool {
	var pm permanentMarker
	return errors.As(err, &pm) && pm.Permanent()
}

// IsTransient reports whether err is worth a delayed retry.
func IsTransient(err error) bool {
	var tm temporaryMarker
	return errors.As(err, &tm) && tm.Temporary()
}

// Kind extracts the failure kind used for dead-letter accounting, if the
// error carries one.
func Kind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

// transientError wraps infrastructure faults (idempotency store I/O and the
// like) that the taxonomy treats as retriable.
type transientError struct {
	msg string
	err error
}

func (e *transientError) Error() string   { return e.msg + ": " + e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Temporary() bool { return true }

func transient(msg string, err error) error {
	return &transientError{msg: msg, err: err}
}
