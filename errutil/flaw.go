package errutil

import (
	"errors"

	"github.com/xeptore/flaw/v8"
)

func IsFlaw(err error) bool {
	if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
		return true
	}
	return false
}

// FlawMessage returns the innermost message of a flaw, or err.Error() for any other error.
func FlawMessage(err error) string {
	if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
		return flawErr.Inner
	}
	return err.Error()
}
