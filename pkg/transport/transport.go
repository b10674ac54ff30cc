package transport

import (
	"context"
	"sort"

	"github.com/godbus/dbus/v5"
)

// well-known names of the authorization service
const (
	ServiceName     = "org.freedesktop.bolt"
	ManagerPath     = "/org/freedesktop/bolt"
	DevicesPath     = ManagerPath + "/devices"
	ManagerIface    = "org.freedesktop.bolt1.Manager"
	DeviceIface     = "org.freedesktop.bolt1.Device"
	PropertiesIface = "org.freedesktop.DBus.Properties"
)

// PropertiesChanged is the member name of the standard property change signal
const PropertiesChanged = "PropertiesChanged"

// Properties is a loosely typed property set as delivered by the bus
type Properties map[string]interface{}

// Clone returns a shallow copy
func (p Properties) Clone() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}

	return c
}

// Get returns a raw value and whether it is present at all
func (p Properties) Get(key string) (interface{}, bool) {
	v, ok := p[key]
	return v, ok
}

// Split separates set values from nil ones, the latter travel as invalidated keys
func (p Properties) Split() (Properties, []string) {
	changed := make(Properties, len(p))
	invalidated := make([]string, 0)

	for k, v := range p {
		if v == nil {
			invalidated = append(invalidated, k)
			continue
		}

		changed[k] = v
	}

	sort.Strings(invalidated)

	return changed, invalidated
}

// Notification is a single inbound event for a remote object.
// Property changes carry Changed/Invalidated, plain signals carry
// Member and Args, and Gone means the object has disappeared.
// Seq is the transport's delivery stamp, zero when it does not stamp.
type Notification struct {
	Path        string
	Interface   string
	Member      string
	Changed     Properties
	Invalidated []string
	Args        []interface{}
	Gone        bool
	Seq         uint64
}

// IsPropertyChange tells whether this notification is a property update
func (n Notification) IsPropertyChange() bool {
	return n.Member == PropertiesChanged
}

// Subscription delivers notifications in the order they were received
type Subscription interface {
	C() <-chan Notification
	Close() error
}

// Transport is the calling side of the bus
type Transport interface {
	// Call invokes a method and blocks until the reply, ctx cancellation or deadline
	Call(ctx context.Context, path, iface, method string, args ...interface{}) ([]interface{}, error)

	// GetAll fetches all properties of an interface on an object
	GetAll(ctx context.Context, path, iface string) (Properties, error)

	// Subscribe starts receiving notifications for the object path and interface
	Subscribe(path, iface string) (Subscription, error)
}

// Sequencer is implemented by transports stamping notifications in
// delivery order. Every notification stamped at or below Mark was sent
// by the peer before Mark returned.
type Sequencer interface {
	Mark() uint64
}

// MarkOf returns the current mark of t, or zero when t does not stamp
func MarkOf(t Transport) uint64 {
	if s, ok := t.(Sequencer); ok {
		return s.Mark()
	}

	return 0
}

// Handler is an object published on the bus
type Handler interface {
	Properties() Properties
	Call(ctx context.Context, method string, args []interface{}) ([]interface{}, error)
}

// Publisher is the exporting side of the bus
type Publisher interface {
	Publish(path, iface string, h Handler) error
	Unpublish(path, iface string) error
	EmitChanged(path, iface string, changed Properties) error
	Emit(path, iface, member string, args ...interface{}) error
}

// ValidatePath checks object path syntax
func ValidatePath(path string) error {
	if path == "" || !dbus.ObjectPath(path).IsValid() {
		return ErrInvalidPath
	}

	return nil
}
