package callback

import (
	"errors"
	"fmt"
)

// ErrNotFound covers every lookup miss: absent, already consumed or expired.
var ErrNotFound = errors.New("callback not found")

type InvalidRecordError struct {
	Field  string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid callback: %s %s", e.Field, e.Reason)
}

func IsInvalid(err error) bool {
	var ie *InvalidRecordError
	return errors.As(err, &ie)
}
