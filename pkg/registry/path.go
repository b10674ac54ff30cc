package registry

import (
	"fmt"
	"strings"

	"github.com/agubarev/bolt/pkg/transport"
	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxUIDLength is the longest uid accepted from callers
const MaxUIDLength = 255

// NormalizeUID validates a device uid and returns its canonical form;
// uuid-shaped uids are lowercased and hyphenated
func NormalizeUID(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", ErrEmptyUID
	}

	if len(uid) > MaxUIDLength {
		return "", errors.Wrapf(ErrInvalidUID, "longer than %d bytes", MaxUIDLength)
	}

	if !govalidator.IsPrintableASCII(uid) {
		return "", errors.Wrapf(ErrInvalidUID, "%q contains non-printable characters", uid)
	}

	// only the hyphenated form, other encodings accepted by uuid.Parse are distinct uids
	if len(uid) == 36 {
		if u, err := uuid.Parse(uid); err == nil {
			return u.String(), nil
		}
	}

	return uid, nil
}

// PathForUID maps a uid onto an object path segment below the device
// collection; '-' becomes '_' and any other byte outside [A-Za-z0-9_]
// is written as '_' followed by two hex digits
func PathForUID(uid string) (string, error) {
	if uid == "" {
		return "", ErrEmptyUID
	}

	var b strings.Builder
	b.WriteString(transport.DevicesPath)
	b.WriteByte('/')

	for i := 0; i < len(uid); i++ {
		c := uid[i]

		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		case c == '-':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}

	path := b.String()
	if err := transport.ValidatePath(path); err != nil {
		return "", errors.Wrapf(err, "uid %q", uid)
	}

	return path, nil
}

// suffixed returns the n-th alternative of a path that is already taken
func suffixed(path string, n int) string {
	if n == 0 {
		return path
	}

	return fmt.Sprintf("%s_%d", path, n)
}
