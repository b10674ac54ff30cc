package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPath     = errors.New("object path is invalid")
	ErrClosed          = errors.New("connection is closed")
	ErrNoSuchObject    = errors.New("object does not exist")
	ErrMalformedReply  = errors.New("reply is malformed")
	ErrAlreadyExported = errors.New("object path is already exported")
	ErrNilHandler      = errors.New("handler is nil")
	ErrUnknownBus      = errors.New("unknown bus kind")
)

// RemoteError is a failure returned by the peer itself,
// as opposed to a failure of the connection
type RemoteError struct {
	Name    string
	Message string
}

func NewRemoteError(name, format string, args ...interface{}) *RemoteError {
	return &RemoteError{
		Name:    name,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}

	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}
