package device

import (
	"context"
	"strings"

	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
)

// error name prefixes
const (
	BoltErrorPrefix = "org.freedesktop.bolt.Error."
	BusErrorPrefix  = "org.freedesktop.DBus.Error."

	gdbusErrorPrefix = "GDBus.Error:"
)

// canonical spelling of codes that are not simply capitalized
var boltCodeNames = map[string]string{
	"udev":         "UDev",
	"accessdenied": "AccessDenied",
	"authfailed":   "AuthFailed",
	"noreply":      "NoReply",
}

// Translate normalizes any failure of a remote call into an AuthorizeError;
// ctx is the context the call was made with
func Translate(ctx context.Context, err error) *AuthorizeError {
	if err == nil {
		return nil
	}

	var aerr *AuthorizeError
	if errors.As(err, &aerr) {
		return aerr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &AuthorizeError{Kind: AuthCancelled, Message: "request was cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &AuthorizeError{Kind: AuthTimeout, Message: "no reply before the deadline", Err: err}
	}

	var rerr *transport.RemoteError
	if errors.As(err, &rerr) {
		return translateRemote(rerr)
	}

	// the transport may report its own failure while the real cause is the context
	if ctx != nil {
		switch ctx.Err() {
		case context.Canceled:
			return &AuthorizeError{Kind: AuthCancelled, Message: "request was cancelled", Err: err}
		case context.DeadlineExceeded:
			return &AuthorizeError{Kind: AuthTimeout, Message: "no reply before the deadline", Err: err}
		}
	}

	return &AuthorizeError{Kind: AuthTransportFailure, Message: err.Error(), Err: err}
}

func translateRemote(rerr *transport.RemoteError) *AuthorizeError {
	msg := StripRemoteMessage(rerr.Name, rerr.Message)

	if strings.HasPrefix(rerr.Name, BusErrorPrefix) {
		switch rerr.Name[len(BusErrorPrefix):] {
		case "NoReply", "Timeout", "TimedOut":
			return &AuthorizeError{Kind: AuthTimeout, Message: msg, Err: rerr}
		case "AccessDenied", "AuthFailed":
			return &AuthorizeError{Kind: AuthRemote, Remote: RemoteKindOf(rerr.Name), Message: msg, Err: rerr}
		default:
			return &AuthorizeError{Kind: AuthTransportFailure, Message: msg, Err: rerr}
		}
	}

	return &AuthorizeError{Kind: AuthRemote, Remote: RemoteKindOf(rerr.Name), Message: msg, Err: rerr}
}

// RemoteKindOf decodes a remote error name into its domain and code
func RemoteKindOf(name string) RemoteKind {
	switch {
	case strings.HasPrefix(name, BoltErrorPrefix):
		parts := strings.Split(name[len(BoltErrorPrefix):], ".")
		if len(parts) == 1 {
			return RemoteKind{Domain: "bolt", Code: strings.ToLower(parts[0])}
		}

		return RemoteKind{
			Domain: strings.ToLower(strings.Join(parts[:len(parts)-1], ".")),
			Code:   strings.ToLower(parts[len(parts)-1]),
		}
	case strings.HasPrefix(name, BusErrorPrefix):
		return RemoteKind{Domain: "dbus", Code: strings.ToLower(name[len(BusErrorPrefix):])}
	}

	i := strings.LastIndex(name, ".")
	if i < 0 {
		return RemoteKind{Code: strings.ToLower(name)}
	}

	return RemoteKind{
		Domain: strings.ToLower(name[:i]),
		Code:   strings.ToLower(name[i+1:]),
	}
}

// ErrorName is the inverse of RemoteKindOf for service-owned kinds
func (k RemoteKind) ErrorName() string {
	switch k.Domain {
	case "bolt":
		return BoltErrorPrefix + codeName(k.Code)
	case "dbus":
		return BusErrorPrefix + codeName(k.Code)
	case "":
		return BoltErrorPrefix + codeName(k.Code)
	}

	if strings.Contains(k.Domain, ".") {
		return k.Domain + "." + codeName(k.Code)
	}

	return BoltErrorPrefix + codeName(k.Domain) + "." + codeName(k.Code)
}

func codeName(code string) string {
	if n, ok := boltCodeNames[code]; ok {
		return n
	}

	if code == "" {
		return code
	}

	return strings.ToUpper(code[:1]) + code[1:]
}

// StripRemoteMessage removes the error name prefixes a bus implementation
// may have prepended to a human readable message; a GDBus prefix without
// the ": " delimiter is not a prefix and stays as it is
func StripRemoteMessage(name, msg string) string {
	for {
		stripped := msg

		if strings.HasPrefix(stripped, gdbusErrorPrefix) {
			rest := stripped[len(gdbusErrorPrefix):]
			if i := strings.Index(rest, ": "); i >= 0 {
				stripped = rest[i+2:]
			}
		} else if name != "" && strings.HasPrefix(stripped, name+": ") {
			stripped = stripped[len(name)+2:]
		}

		if stripped == msg {
			return strings.TrimSpace(msg)
		}

		msg = stripped
	}
}
