package device

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Type tells whether the device is the host controller or a peripheral
type Type uint8

// device types
const (
	TypeHost Type = iota
	TypePeripheral
)

var typeNicks = []string{"host", "peripheral"}

func (t Type) String() string {
	if int(t) < len(typeNicks) {
		return typeNicks[t]
	}

	return fmt.Sprintf("type(%d)", t)
}

// ParseType parses a device type nick
func ParseType(s string) (Type, error) {
	v, err := parseNick(typeNicks, s)
	return Type(v), err
}

// Status is the connection/authorization state of a device
type Status uint8

// device statuses
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthorizing
	StatusAuthError
	StatusAuthorized
	StatusAuthorizedSecure
	StatusAuthorizedNewkey
)

var statusNicks = []string{
	"disconnected",
	"connecting",
	"connected",
	"authorizing",
	"auth-error",
	"authorized",
	"authorized-secure",
	"authorized-newkey",
}

func (s Status) String() string {
	if int(s) < len(statusNicks) {
		return statusNicks[s]
	}

	return fmt.Sprintf("status(%d)", s)
}

// IsAuthorized reports whether the device has been authorized in any mode
func (s Status) IsAuthorized() bool {
	switch s {
	case StatusAuthorized, StatusAuthorizedSecure, StatusAuthorizedNewkey:
		return true
	}

	return false
}

// IsConnected reports whether the device is physically present
func (s Status) IsConnected() bool {
	return s > StatusDisconnected
}

// ParseStatus parses a status nick
func ParseStatus(s string) (Status, error) {
	v, err := parseNick(statusNicks, s)
	return Status(v), err
}

// Policy is the automatic authorization policy configured for a device
type Policy uint8

// policies
const (
	PolicyDefault Policy = iota
	PolicyManual
	PolicyAuto
	PolicyIommu
)

var policyNicks = []string{"default", "manual", "auto", "iommu"}

func (p Policy) String() string {
	if int(p) < len(policyNicks) {
		return policyNicks[p]
	}

	return fmt.Sprintf("policy(%d)", p)
}

// ParsePolicy parses a policy nick
func ParsePolicy(s string) (Policy, error) {
	v, err := parseNick(policyNicks, s)
	return Policy(v), err
}

// KeyState describes the secure-mode key of a device
type KeyState uint8

// key states
const (
	KeyMissing KeyState = iota
	KeyHave
	KeyNew
)

var keyStateNicks = []string{"missing", "have", "new"}

func (k KeyState) String() string {
	if int(k) < len(keyStateNicks) {
		return keyStateNicks[k]
	}

	return fmt.Sprintf("key(%d)", k)
}

// ParseKeyState parses a key state nick
func ParseKeyState(s string) (KeyState, error) {
	v, err := parseNick(keyStateNicks, s)
	return KeyState(v), err
}

func parseNick(nicks []string, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range nicks {
		if n == s {
			return i, nil
		}
	}

	return 0, errors.Errorf("unknown value %q, expected one of: %s", s, strings.Join(nicks, ", "))
}

//---------------------------------------------------------------------------
// text encoding, enums travel as nicks in JSON
//---------------------------------------------------------------------------

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) (err error) {
	*t, err = ParseType(string(b))
	return err
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) (err error) {
	*s, err = ParseStatus(string(b))
	return err
}

func (p Policy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Policy) UnmarshalText(b []byte) (err error) {
	*p, err = ParsePolicy(string(b))
	return err
}

func (k KeyState) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *KeyState) UnmarshalText(b []byte) (err error) {
	*k, err = ParseKeyState(string(b))
	return err
}
