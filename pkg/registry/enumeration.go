package registry

import (
	"strconv"
	"strings"
	"time"

	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
)

// sysfs attribute names of a domain device
const (
	AttrUniqueID   = "unique_id"
	AttrDeviceName = "device_name"
	AttrDeviceID   = "device"
	AttrVendorName = "vendor_name"
	AttrVendorID   = "vendor"
	AttrAuthorized = "authorized"
	AttrKey        = "key"
)

// Descriptor is what enumeration reports about one connected device
type Descriptor struct {
	Syspath string
	Attrs   map[string]string

	// Parent is the uid of the upstream device, empty for the host
	Parent      string
	Host        bool
	ConnectTime time.Time
}

func (d Descriptor) attr(name string) string {
	return strings.TrimSpace(d.Attrs[name])
}

// UID returns the device unique id as reported by enumeration
func (d Descriptor) UID() string {
	return d.attr(AttrUniqueID)
}

// Record is the complete exported state of a device
type Record struct {
	UID           string
	Name          string
	Vendor        string
	Type          device.Type
	Status        device.Status
	Parent        string
	Syspath       string
	ConnectTime   uint64
	AuthorizeTime uint64
	Stored        bool
	Policy        device.Policy
	KeyState      device.KeyState
	StoreTime     uint64
	Label         string
	HasLabel      bool
}

// RecordFromDescriptor derives the initial exported state from enumeration data
func RecordFromDescriptor(d Descriptor) (Record, error) {
	uid, err := NormalizeUID(d.UID())
	if err != nil {
		return Record{}, errors.Wrapf(err, "device at %s", d.Syspath)
	}

	r := Record{
		UID:     uid,
		Name:    firstNonEmpty(d.attr(AttrDeviceName), d.attr(AttrDeviceID), "unknown"),
		Vendor:  firstNonEmpty(d.attr(AttrVendorName), d.attr(AttrVendorID), "unknown"),
		Type:    device.TypePeripheral,
		Status:  StatusFromAttrs(d.attr(AttrAuthorized), d.attr(AttrKey)),
		Parent:  d.Parent,
		Syspath: d.Syspath,
	}

	if d.Host {
		r.Type = device.TypeHost
	}

	if !d.ConnectTime.IsZero() {
		r.ConnectTime = uint64(d.ConnectTime.Unix())
	}

	return r, nil
}

// StatusFromAttrs derives the device status from the authorized and key attributes
func StatusFromAttrs(authorized, key string) device.Status {
	level, err := strconv.Atoi(authorized)
	if err != nil {
		level = 0
	}

	hasKey := len(key) > 0

	switch {
	case level == 2:
		return device.StatusAuthorizedSecure
	case level == 1 && hasKey:
		return device.StatusAuthorizedNewkey
	case level == 1:
		return device.StatusAuthorized
	case level == 0 && hasKey:
		return device.StatusAuthError
	default:
		return device.StatusConnected
	}
}

// Properties renders the record as wire properties
func (r Record) Properties() transport.Properties {
	props := transport.Properties{
		key(device.AttrUID):           r.UID,
		key(device.AttrName):          r.Name,
		key(device.AttrVendor):        r.Vendor,
		key(device.AttrType):          uint32(r.Type),
		key(device.AttrStatus):        uint32(r.Status),
		key(device.AttrParent):        r.Parent,
		key(device.AttrSyspath):       r.Syspath,
		key(device.AttrConnectTime):   r.ConnectTime,
		key(device.AttrAuthorizeTime): r.AuthorizeTime,
		key(device.AttrStored):        r.Stored,
		key(device.AttrPolicy):        uint32(r.Policy),
		key(device.AttrKeyState):      uint32(r.KeyState),
		key(device.AttrStoreTime):     r.StoreTime,
	}

	if r.HasLabel {
		props[key(device.AttrLabel)] = r.Label
	}

	return props
}

func (r Record) identity(path string, now time.Time) Identity {
	return Identity{
		UID:       r.UID,
		Path:      path,
		Name:      r.Name,
		Vendor:    r.Vendor,
		Type:      r.Type,
		FirstSeen: now,
		LastSeen:  now,
	}
}

func key(attr device.Attribute) string {
	f, err := device.DefaultSchema.Field(attr)
	if err != nil {
		panic(err)
	}

	return f.Key
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
