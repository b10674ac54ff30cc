package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// manager signals
const (
	SignalDeviceAdded   = "DeviceAdded"
	SignalDeviceRemoved = "DeviceRemoved"
)

// ManagerVersion is the interface version reported by the manager object
const ManagerVersion = uint32(1)

// AuthorizeFunc performs the actual authorization of an exported device;
// a returned *device.AuthorizeError of kind AuthRemote is passed on to the
// caller with its domain and code
type AuthorizeFunc func(ctx context.Context, uid string, flags device.AuthFlags) error

// Exporter publishes device objects and the manager object on the bus
type Exporter struct {
	publisher transport.Publisher
	store     Store
	devices   map[string]*exportedDevice
	paths     map[string]string
	logger    *zap.Logger
	sync.RWMutex
}

// NewExporter initializes an exporter and publishes the manager object
func NewExporter(p transport.Publisher, s Store) (*Exporter, error) {
	if p == nil {
		return nil, ErrNilPublisher
	}

	if s == nil {
		return nil, ErrNilStore
	}

	e := &Exporter{
		publisher: p,
		store:     s,
		devices:   make(map[string]*exportedDevice),
		paths:     make(map[string]string),
		logger:    zap.NewNop(),
	}

	if err := p.Publish(transport.ManagerPath, transport.ManagerIface, &managerHandler{e}); err != nil {
		return nil, errors.Wrap(err, "failed to publish manager")
	}

	return e, nil
}

// SetLogger sets the exporter logger, devices exported earlier keep the previous one
func (e *Exporter) SetLogger(logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	e.Lock()
	e.logger = logger.Named("[exporter]")
	e.Unlock()

	return nil
}

func (e *Exporter) Logger() *zap.Logger {
	e.RLock()
	defer e.RUnlock()

	return e.logger
}

// Export publishes a device; the object path is derived from the uid,
// reused from a previous export if the store remembers one, and suffixed
// when another device currently holds it
func (e *Exporter) Export(ctx context.Context, r Record, fn AuthorizeFunc) (string, error) {
	uid, err := NormalizeUID(r.UID)
	if err != nil {
		return "", err
	}

	r.UID = uid

	e.Lock()
	defer e.Unlock()

	if _, ok := e.devices[uid]; ok {
		return "", errors.Wrapf(ErrAlreadyExported, "%s", uid)
	}

	now := time.Now()
	id, err := e.store.Get(ctx, uid)
	switch {
	case err == nil:
		id.Name, id.Vendor, id.Type, id.LastSeen = r.Name, r.Vendor, r.Type, now
	case errors.Is(err, ErrIdentityNotFound):
		id = r.identity("", now)
	default:
		return "", errors.Wrapf(err, "failed to look up identity of %s", uid)
	}

	path, err := e.allocatePath(uid, id.Path)
	if err != nil {
		return "", err
	}

	d := &exportedDevice{
		uid:       uid,
		path:      path,
		props:     r.Properties(),
		authorize: fn,
		logger:    e.logger,
	}

	if err = e.publisher.Publish(path, transport.DeviceIface, d); err != nil {
		return "", errors.Wrapf(err, "failed to publish %s", uid)
	}

	id.Path = path
	if err = e.store.Put(ctx, id); err != nil {
		_ = e.publisher.Unpublish(path, transport.DeviceIface)
		return "", errors.Wrapf(err, "failed to store identity of %s", uid)
	}

	e.devices[uid] = d
	e.paths[path] = uid

	if err = e.publisher.Emit(transport.ManagerPath, transport.ManagerIface, SignalDeviceAdded, transport.ObjectPath(path)); err != nil {
		e.logger.Warn("failed to announce device", zap.String("uid", uid), zap.Error(err))
	}

	e.logger.Info("device exported",
		zap.String("uid", uid),
		zap.String("path", path),
		zap.String("status", r.Status.String()),
	)

	return path, nil
}

// allocatePath must be called under the exporter lock
func (e *Exporter) allocatePath(uid, previous string) (string, error) {
	if previous != "" {
		if owner, taken := e.paths[previous]; !taken || owner == uid {
			return previous, nil
		}
	}

	base, err := PathForUID(uid)
	if err != nil {
		return "", err
	}

	for n := 0; ; n++ {
		path := suffixed(base, n)
		if _, taken := e.paths[path]; !taken {
			return path, nil
		}
	}
}

// Unexport removes a device from the bus; unknown uids are ignored
func (e *Exporter) Unexport(ctx context.Context, uid string) error {
	norm, err := NormalizeUID(uid)
	if err != nil {
		return err
	}

	e.Lock()
	d, ok := e.devices[norm]
	if ok {
		delete(e.devices, norm)
		delete(e.paths, d.path)
	}
	e.Unlock()

	if !ok {
		return nil
	}

	// waits for an update in flight, later ones see the flag
	d.Lock()
	d.removed = true
	d.Unlock()

	if err = e.publisher.Unpublish(d.path, transport.DeviceIface); err != nil {
		return errors.Wrapf(err, "failed to unpublish %s", norm)
	}

	if err = e.publisher.Emit(transport.ManagerPath, transport.ManagerIface, SignalDeviceRemoved, transport.ObjectPath(d.path)); err != nil {
		e.Logger().Warn("failed to announce device removal", zap.String("uid", norm), zap.Error(err))
	}

	e.Logger().Info("device unexported", zap.String("uid", norm), zap.String("path", d.path))

	return nil
}

// Update changes published properties and notifies subscribers;
// updates of one device are emitted in call order
func (e *Exporter) Update(ctx context.Context, uid string, changed transport.Properties) error {
	norm, err := NormalizeUID(uid)
	if err != nil {
		return err
	}

	if _, ok := changed[key(device.AttrUID)]; ok {
		return ErrImmutableUID
	}

	e.RLock()
	d, ok := e.devices[norm]
	e.RUnlock()

	if !ok {
		return errors.Wrapf(ErrNotExported, "%s", norm)
	}

	return d.update(e.publisher, changed)
}

// SetStatus is a shorthand for updating the status attribute
func (e *Exporter) SetStatus(ctx context.Context, uid string, s device.Status) error {
	changed := transport.Properties{key(device.AttrStatus): uint32(s)}
	if s.IsAuthorized() {
		changed[key(device.AttrAuthorizeTime)] = uint64(time.Now().Unix())
	}

	return e.Update(ctx, uid, changed)
}

// Exported returns the object path of an exported device
func (e *Exporter) Exported(uid string) (string, bool) {
	norm, err := NormalizeUID(uid)
	if err != nil {
		return "", false
	}

	e.RLock()
	defer e.RUnlock()

	d, ok := e.devices[norm]
	if !ok {
		return "", false
	}

	return d.path, true
}

// Paths lists the object paths of all exported devices
func (e *Exporter) Paths() []string {
	e.RLock()
	paths := make([]string, 0, len(e.paths))
	for p := range e.paths {
		paths = append(paths, p)
	}
	e.RUnlock()

	sort.Strings(paths)

	return paths
}

// Close unexports every device and the manager object
func (e *Exporter) Close(ctx context.Context) error {
	e.RLock()
	uids := make([]string, 0, len(e.devices))
	for uid := range e.devices {
		uids = append(uids, uid)
	}
	e.RUnlock()

	for _, uid := range uids {
		if err := e.Unexport(ctx, uid); err != nil {
			return err
		}
	}

	return e.publisher.Unpublish(transport.ManagerPath, transport.ManagerIface)
}

//---------------------------------------------------------------------------
// published objects
//---------------------------------------------------------------------------

type exportedDevice struct {
	uid       string
	path      string
	props     transport.Properties
	authorize AuthorizeFunc
	logger    *zap.Logger
	removed   bool
	sync.Mutex
}

func (d *exportedDevice) Properties() transport.Properties {
	d.Lock()
	defer d.Unlock()

	return d.props.Clone()
}

// update holds the device lock while emitting so notifications keep call order;
// nothing is emitted once the device is unexported
func (d *exportedDevice) update(p transport.Publisher, changed transport.Properties) error {
	d.Lock()
	defer d.Unlock()

	if d.removed {
		return errors.Wrapf(ErrNotExported, "%s", d.uid)
	}

	for k, v := range changed {
		if v == nil {
			delete(d.props, k)
			continue
		}

		d.props[k] = v
	}

	return p.EmitChanged(d.path, transport.DeviceIface, changed)
}

func (d *exportedDevice) Call(ctx context.Context, method string, args []interface{}) ([]interface{}, error) {
	if method != "Authorize" {
		return nil, transport.NewRemoteError(device.BusErrorPrefix+"UnknownMethod", "unknown method %s", method)
	}

	if len(args) != 1 {
		return nil, transport.NewRemoteError(device.BusErrorPrefix+"InvalidArgs", "expected a single flags argument")
	}

	raw, ok := args[0].(string)
	if !ok {
		return nil, transport.NewRemoteError(device.BusErrorPrefix+"InvalidArgs", "flags must be a string, got %T", args[0])
	}

	flags, err := device.DecodeAuthFlags(raw)
	if err != nil {
		return nil, transport.NewRemoteError(device.BusErrorPrefix+"InvalidArgs", "%s", err)
	}

	if d.authorize == nil {
		return nil, transport.NewRemoteError(device.KindFailed.ErrorName(), "device %s cannot be authorized", d.uid)
	}

	d.logger.Debug("authorization requested", zap.String("uid", d.uid), zap.String("flags", raw))

	if err = d.authorize(ctx, d.uid, flags); err != nil {
		return nil, toRemoteError(err)
	}

	return nil, nil
}

func toRemoteError(err error) *transport.RemoteError {
	var rerr *transport.RemoteError
	if errors.As(err, &rerr) {
		return rerr
	}

	var aerr *device.AuthorizeError
	if errors.As(err, &aerr) && aerr.Kind == device.AuthRemote {
		return transport.NewRemoteError(aerr.Remote.ErrorName(), "%s", aerr.Message)
	}

	return transport.NewRemoteError(device.KindFailed.ErrorName(), "%s", err)
}

type managerHandler struct {
	e *Exporter
}

func (h *managerHandler) Properties() transport.Properties {
	return transport.Properties{"Version": ManagerVersion}
}

func (h *managerHandler) Call(ctx context.Context, method string, args []interface{}) ([]interface{}, error) {
	switch method {
	case "ListDevices":
		paths := h.e.Paths()
		out := make([]transport.ObjectPath, len(paths))
		for i := range paths {
			out[i] = transport.ObjectPath(paths[i])
		}

		return []interface{}{out}, nil
	case "DeviceByUid":
		if len(args) != 1 {
			return nil, transport.NewRemoteError(device.BusErrorPrefix+"InvalidArgs", "expected a single uid argument")
		}

		uid, _ := args[0].(string)
		path, ok := h.e.Exported(uid)
		if !ok {
			return nil, transport.NewRemoteError(device.KindFailed.ErrorName(), "device with id '%s' could not be found", uid)
		}

		return []interface{}{transport.ObjectPath(path)}, nil
	default:
		return nil, transport.NewRemoteError(device.BusErrorPrefix+"UnknownMethod", "unknown method %s", method)
	}
}
