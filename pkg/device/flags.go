package device

import (
	"strings"

	"github.com/pkg/errors"
)

// AuthFlags modify how a device gets authorized
type AuthFlags uint32

// authorization flags
const (
	AuthNone   AuthFlags = 0
	AuthNoPCIe AuthFlags = 1 << 0
	AuthSecure AuthFlags = 1 << 1
	AuthNoKey  AuthFlags = 1 << 2
	AuthBoot   AuthFlags = 1 << 3

	authAll = AuthNoPCIe | AuthSecure | AuthNoKey | AuthBoot
)

const flagSeparator = " | "

// nicks in ascending bit order
var flagNicks = []struct {
	flag AuthFlags
	nick string
}{
	{AuthNoPCIe, "nopcie"},
	{AuthSecure, "secure"},
	{AuthNoKey, "nokey"},
	{AuthBoot, "boot"},
}

func (f AuthFlags) String() string {
	s, err := EncodeAuthFlags(f)
	if err != nil {
		return "invalid"
	}

	return s
}

// Has tells whether every bit of x is set
func (f AuthFlags) Has(x AuthFlags) bool {
	return f&x == x
}

func (f AuthFlags) validate() error {
	if f&^authAll != 0 {
		return errors.Wrapf(ErrUnknownFlag, "bits 0x%x", uint32(f&^authAll))
	}

	if f.Has(AuthSecure | AuthNoKey) {
		return ErrInvalidFlagCombination
	}

	return nil
}

// EncodeAuthFlags renders a flag set as its wire string, e.g. "nopcie | boot";
// the empty set is "none"
func EncodeAuthFlags(f AuthFlags) (string, error) {
	if err := f.validate(); err != nil {
		return "", err
	}

	if f == AuthNone {
		return "none", nil
	}

	parts := make([]string, 0, len(flagNicks))
	for _, n := range flagNicks {
		if f.Has(n.flag) {
			parts = append(parts, n.nick)
		}
	}

	return strings.Join(parts, flagSeparator), nil
}

// DecodeAuthFlags parses a wire string produced by EncodeAuthFlags
func DecodeAuthFlags(s string) (AuthFlags, error) {
	var f AuthFlags

	if strings.TrimSpace(s) == "" {
		return AuthNone, nil
	}

	for _, token := range strings.Split(s, "|") {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "none" {
			continue
		}

		found := false
		for _, n := range flagNicks {
			if n.nick == token {
				f |= n.flag
				found = true
				break
			}
		}

		if !found {
			return AuthNone, errors.Wrapf(ErrUnknownFlag, "%q", token)
		}
	}

	if err := f.validate(); err != nil {
		return AuthNone, err
	}

	return f, nil
}
