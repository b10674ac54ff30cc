package device

import (
	"fmt"

	"github.com/pkg/errors"
)

// errors
var (
	ErrInvalidFlagCombination = errors.New("secure and nokey authorization flags are mutually exclusive")
	ErrUnknownFlag            = errors.New("unknown authorization flag")
	ErrDetached               = errors.New("device proxy is detached")
	ErrNilTransport           = errors.New("transport is nil")
	ErrInvalidSchema          = errors.New("property schema is invalid")
	ErrUnknownAttribute       = errors.New("unknown device attribute")
)

// BindErrorKind distinguishes the ways binding to a remote device can fail
type BindErrorKind uint8

// bind error kinds
const (
	BindInvalidIdentity BindErrorKind = iota
	BindUnreachable
	BindDetached
)

func (k BindErrorKind) String() string {
	switch k {
	case BindInvalidIdentity:
		return "invalid identity"
	case BindUnreachable:
		return "unreachable"
	case BindDetached:
		return "detached"
	default:
		return "unknown bind error"
	}
}

// BindError is returned when a proxy cannot be bound to, or is no longer bound to,
// its remote object
type BindError struct {
	Kind     BindErrorKind
	Identity string
	Err      error
}

func (e *BindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bind %s: %s", e.Identity, e.Kind)
	}

	return fmt.Sprintf("bind %s: %s: %s", e.Identity, e.Kind, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// PropertyDecodeError means a remote property value does not fit its declared type
type PropertyDecodeError struct {
	Key    string
	Raw    interface{}
	Reason string
}

func (e *PropertyDecodeError) Error() string {
	return fmt.Sprintf("property %s: cannot decode %T(%v): %s", e.Key, e.Raw, e.Raw, e.Reason)
}

// RemoteKind identifies a failure reported by the service
type RemoteKind struct {
	Domain string
	Code   string
}

// well-known remote kinds
var (
	KindFailed       = RemoteKind{Domain: "bolt", Code: "failed"}
	KindUDev         = RemoteKind{Domain: "bolt", Code: "udev"}
	KindPolicyDenied = RemoteKind{Domain: "policy", Code: "denied"}
	KindAccessDenied = RemoteKind{Domain: "dbus", Code: "accessdenied"}
)

func (k RemoteKind) String() string {
	if k.Domain == "" {
		return k.Code
	}

	return k.Domain + "/" + k.Code
}

// AuthorizeErrorKind classifies a failed authorization request
type AuthorizeErrorKind uint8

// authorize error kinds
const (
	AuthFlagEncoding AuthorizeErrorKind = iota
	AuthCancelled
	AuthRemote
	AuthTimeout
	AuthTransportFailure
)

func (k AuthorizeErrorKind) String() string {
	switch k {
	case AuthFlagEncoding:
		return "flag encoding"
	case AuthCancelled:
		return "cancelled"
	case AuthRemote:
		return "remote"
	case AuthTimeout:
		return "timeout"
	case AuthTransportFailure:
		return "transport failure"
	default:
		return "unknown authorize error"
	}
}

// AuthorizeError is the normalized result of a failed Authorize call.
// Remote is only meaningful for AuthRemote.
type AuthorizeError struct {
	Kind    AuthorizeErrorKind
	Remote  RemoteKind
	Message string
	Err     error
}

func (e *AuthorizeError) Error() string {
	switch {
	case e.Kind == AuthRemote && e.Message != "":
		return fmt.Sprintf("authorization failed: %s: %s", e.Remote, e.Message)
	case e.Kind == AuthRemote:
		return fmt.Sprintf("authorization failed: %s", e.Remote)
	case e.Message != "":
		return fmt.Sprintf("authorization failed: %s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("authorization failed: %s", e.Kind)
	}
}

func (e *AuthorizeError) Unwrap() error {
	return e.Err
}

// Retryable tells whether repeating the request may succeed;
// a request the service actively refused is not retryable
func (e *AuthorizeError) Retryable() bool {
	return e.Kind == AuthTransportFailure || e.Kind == AuthTimeout
}

// Is matches an AuthorizeError of the same kind, comparing remote kinds for AuthRemote
func (e *AuthorizeError) Is(target error) bool {
	t, ok := target.(*AuthorizeError)
	if !ok {
		return false
	}

	if t.Kind != e.Kind {
		return false
	}

	return t.Kind != AuthRemote || t.Remote == e.Remote
}
