package mirror

import (
	"fmt"

	"github.com/awcullen/opcua/ua"
	"github.com/pkg/errors"
)

var (
	// ErrUnmirroredNotification is logged when a notification names a node that has no field.
	// Such notifications are dropped.
	ErrUnmirroredNotification = errors.New("notification for unmirrored child")

	// ErrFieldMissing is returned when a variable of the node index has no local value to push.
	ErrFieldMissing = errors.New("mirrored field has no value")
)

// BindError is returned by Bind. No subscription is left behind when it is returned.
type BindError struct {
	NodeID ua.NodeID
	Reason string
	Err    error
}

func (e *BindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bind %v: %s", e.NodeID, e.Reason)
	}
	return fmt.Sprintf("bind %v: %s: %v", e.NodeID, e.Reason, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Cause lets errors.Cause reach the backend error.
func (e *BindError) Cause() error { return e.Err }

// UnknownFieldError is returned by WriteField for a name that is not in the node index.
type UnknownFieldError struct {
	Object string
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: unknown field %q", e.Object, e.Field)
}

// NotWritableError is returned by WriteField when the node is not a Variable.
type NotWritableError struct {
	Object string
	Field  string
	Kind   Kind
}

func (e *NotWritableError) Error() string {
	return fmt.Sprintf("%s: field %q is a %s and cannot be written", e.Object, e.Field, e.Kind)
}
