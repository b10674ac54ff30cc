package transport

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BusKind selects which message bus to connect to
type BusKind string

const (
	SystemBus  BusKind = "system"
	SessionBus BusKind = "session"
)

const (
	dbusErrorPrefix   = "org.freedesktop.DBus.Error."
	errUnknownMethod  = dbusErrorPrefix + "UnknownMethod"
	errUnknownIface   = dbusErrorPrefix + "UnknownInterface"
	errUnknownProp    = dbusErrorPrefix + "UnknownProperty"
	errFailed         = dbusErrorPrefix + "Failed"
	busName           = "org.freedesktop.DBus"
	busPath           = "/org/freedesktop/DBus"
	nameOwnerChanged  = "NameOwnerChanged"
	signalQueueLength = 128
)

// DBus adapts a godbus connection to Transport and Publisher
type DBus struct {
	received uint64
	conn     *dbus.Conn
	service  string
	signals  chan *dbus.Signal
	subs     map[objectKey][]*dbusSubscription
	exported map[dbus.ObjectPath]map[string]Handler
	logger   *zap.Logger
	sync.RWMutex
}

// Connect opens a shared connection to the given bus and returns
// an adapter talking to the given service name
func Connect(kind BusKind, service string) (*DBus, error) {
	var conn *dbus.Conn
	var err error

	switch kind {
	case SystemBus:
		conn, err = dbus.SystemBus()
	case SessionBus:
		conn, err = dbus.SessionBus()
	default:
		return nil, errors.Wrapf(ErrUnknownBus, "%q", kind)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s bus", kind)
	}

	return NewDBus(conn, service)
}

// NewDBus wraps an already established connection
func NewDBus(conn *dbus.Conn, service string) (*DBus, error) {
	if conn == nil {
		return nil, ErrClosed
	}

	d := &DBus{
		conn:     conn,
		service:  service,
		signals:  make(chan *dbus.Signal, signalQueueLength),
		subs:     make(map[objectKey][]*dbusSubscription),
		exported: make(map[dbus.ObjectPath]map[string]Handler),
		logger:   zap.NewNop(),
	}

	// the peer vanishing from the bus means all its objects are gone
	err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(busPath),
		dbus.WithMatchInterface(busName),
		dbus.WithMatchMember(nameOwnerChanged),
	)

	if err != nil {
		return nil, errors.Wrap(err, "failed to add name owner match")
	}

	conn.Signal(d.signals)
	go d.dispatch()

	return d, nil
}

func (d *DBus) SetLogger(logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	} else {
		logger = logger.Named("[dbus]")
	}

	d.Lock()
	d.logger = logger
	d.Unlock()

	return nil
}

func (d *DBus) Logger() *zap.Logger {
	d.RLock()
	defer d.RUnlock()

	return d.logger
}

// Own requests the service name, required before publishing objects
func (d *DBus) Own() error {
	reply, err := d.conn.RequestName(d.service, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Wrapf(err, "failed to request name %s", d.service)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.Errorf("name %s is already taken", d.service)
	}

	return nil
}

func (d *DBus) Call(ctx context.Context, path, iface, method string, args ...interface{}) ([]interface{}, error) {
	obj := d.conn.Object(d.service, dbus.ObjectPath(path))

	call := obj.CallWithContext(ctx, iface+"."+method, 0, toWire(args)...)
	if call.Err != nil {
		return nil, d.convertError(ctx, call.Err)
	}

	body := make([]interface{}, len(call.Body))
	for i := range call.Body {
		body[i] = fromWire(call.Body[i])
	}

	return body, nil
}

func (d *DBus) GetAll(ctx context.Context, path, iface string) (Properties, error) {
	obj := d.conn.Object(d.service, dbus.ObjectPath(path))

	call := obj.CallWithContext(ctx, PropertiesIface+".GetAll", 0, iface)
	if call.Err != nil {
		return nil, d.convertError(ctx, call.Err)
	}

	var raw map[string]dbus.Variant
	if err := call.Store(&raw); err != nil {
		return nil, errors.Wrap(ErrMalformedReply, err.Error())
	}

	return fromVariants(raw), nil
}

func (d *DBus) Subscribe(path, iface string) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	err := d.conn.AddMatchSignal(dbus.WithMatchObjectPath(dbus.ObjectPath(path)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to add match for %s", path)
	}

	s := &dbusSubscription{
		bus:  d,
		key:  objectKey{path, iface},
		ch:   make(chan Notification, SubscriptionBuffer),
		done: make(chan struct{}),
	}

	d.Lock()
	d.subs[s.key] = append(d.subs[s.key], s)
	d.Unlock()

	return s, nil
}

func (d *DBus) Publish(path, iface string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}

	if err := ValidatePath(path); err != nil {
		return err
	}

	opath := dbus.ObjectPath(path)

	d.Lock()
	defer d.Unlock()

	if _, ok := d.exported[opath][iface]; ok {
		return ErrAlreadyExported
	}

	var obj interface{}
	switch iface {
	case DeviceIface:
		obj = &deviceObject{h}
	case ManagerIface:
		obj = &managerObject{h}
	default:
		return errors.Errorf("interface %s cannot be exported", iface)
	}

	if err := d.conn.Export(obj, opath, iface); err != nil {
		return errors.Wrapf(err, "failed to export %s at %s", iface, path)
	}

	if d.exported[opath] == nil {
		d.exported[opath] = make(map[string]Handler)

		if err := d.conn.Export(&propertiesObject{d, opath}, opath, PropertiesIface); err != nil {
			return errors.Wrapf(err, "failed to export properties at %s", path)
		}
	}

	d.exported[opath][iface] = h

	return nil
}

func (d *DBus) Unpublish(path, iface string) error {
	opath := dbus.ObjectPath(path)

	d.Lock()
	defer d.Unlock()

	if _, ok := d.exported[opath][iface]; !ok {
		return nil
	}

	if err := d.conn.Export(nil, opath, iface); err != nil {
		return errors.Wrapf(err, "failed to unexport %s at %s", iface, path)
	}

	delete(d.exported[opath], iface)

	if len(d.exported[opath]) == 0 {
		delete(d.exported, opath)

		if err := d.conn.Export(nil, opath, PropertiesIface); err != nil {
			return errors.Wrapf(err, "failed to unexport properties at %s", path)
		}
	}

	return nil
}

func (d *DBus) EmitChanged(path, iface string, changed Properties) error {
	set, invalidated := changed.Split()

	return d.conn.Emit(
		dbus.ObjectPath(path),
		PropertiesIface+"."+PropertiesChanged,
		iface,
		toVariants(set),
		invalidated,
	)
}

func (d *DBus) Emit(path, iface, member string, args ...interface{}) error {
	return d.conn.Emit(dbus.ObjectPath(path), iface+"."+member, toWire(args)...)
}

// Close terminates all subscriptions; the shared connection stays open
func (d *DBus) Close() error {
	d.conn.RemoveSignal(d.signals)

	d.Lock()
	subs := d.subs
	d.subs = make(map[objectKey][]*dbusSubscription)
	d.Unlock()

	for _, list := range subs {
		for _, s := range list {
			s.terminate()
		}
	}

	return nil
}

func (d *DBus) convertError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	switch e := err.(type) {
	case dbus.Error:
		return &RemoteError{Name: e.Name, Message: errorMessage(e.Body)}
	case *dbus.Error:
		return &RemoteError{Name: e.Name, Message: errorMessage(e.Body)}
	}

	if err == dbus.ErrClosed {
		return ErrClosed
	}

	return errors.Wrap(err, "bus call failed")
}

func errorMessage(body []interface{}) string {
	if len(body) == 0 {
		return ""
	}

	if s, ok := body[0].(string); ok {
		return s
	}

	return ""
}

// Mark counts the signals dispatched so far plus the ones already
// queued; those were sent before any call issued after Mark returns
func (d *DBus) Mark() uint64 {
	return atomic.LoadUint64(&d.received) + uint64(len(d.signals))
}

// dispatch fans out bus signals to subscriptions, one at a time,
// which keeps the delivery order per object
func (d *DBus) dispatch() {
	for sig := range d.signals {
		seq := atomic.AddUint64(&d.received, 1)

		if sig == nil {
			continue
		}

		i := strings.LastIndex(sig.Name, ".")
		if i < 0 {
			continue
		}

		iface, member := sig.Name[:i], sig.Name[i+1:]
		path := string(sig.Path)

		switch {
		case iface == busName && member == nameOwnerChanged:
			d.handleOwnerChange(sig.Body, seq)
		case iface == PropertiesIface && member == PropertiesChanged:
			d.handlePropertiesChanged(path, sig.Body, seq)
		default:
			args := make([]interface{}, len(sig.Body))
			for i := range sig.Body {
				args[i] = fromWire(sig.Body[i])
			}

			d.deliver(objectKey{path, iface}, Notification{
				Path:      path,
				Interface: iface,
				Member:    member,
				Args:      args,
				Seq:       seq,
			})
		}
	}

	// connection is gone
	d.Close()
}

func (d *DBus) handlePropertiesChanged(path string, body []interface{}, seq uint64) {
	if len(body) < 2 {
		d.Logger().Warn("malformed properties changed signal", zap.String("path", path))
		return
	}

	iface, ok := body[0].(string)
	if !ok {
		return
	}

	changed, _ := body[1].(map[string]dbus.Variant)

	var invalidated []string
	if len(body) > 2 {
		invalidated, _ = body[2].([]string)
	}

	d.deliver(objectKey{path, iface}, Notification{
		Path:        path,
		Interface:   iface,
		Member:      PropertiesChanged,
		Changed:     fromVariants(changed),
		Invalidated: invalidated,
		Seq:         seq,
	})
}

func (d *DBus) handleOwnerChange(body []interface{}, seq uint64) {
	if len(body) < 3 {
		return
	}

	name, _ := body[0].(string)
	newOwner, _ := body[2].(string)

	if name != d.service || newOwner != "" {
		return
	}

	d.Logger().Warn("service has left the bus", zap.String("service", name))

	d.RLock()
	keys := make([]objectKey, 0, len(d.subs))
	for k := range d.subs {
		keys = append(keys, k)
	}
	d.RUnlock()

	for _, k := range keys {
		d.deliver(k, Notification{Path: k.path, Interface: k.iface, Gone: true, Seq: seq})
	}
}

func (d *DBus) deliver(key objectKey, n Notification) {
	d.RLock()
	defer d.RUnlock()

	for _, s := range d.subs[key] {
		select {
		case s.ch <- n:
		case <-s.done:
		}
	}
}

func (d *DBus) remove(s *dbusSubscription) {
	d.Lock()
	list := d.subs[s.key]
	for i := range list {
		if list[i] == s {
			d.subs[s.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	d.Unlock()

	// the bus counts identical match rules, this drops only our reference
	if err := d.conn.RemoveMatchSignal(dbus.WithMatchObjectPath(dbus.ObjectPath(s.key.path))); err != nil {
		d.Logger().Debug("failed to remove match rule", zap.String("path", s.key.path), zap.Error(err))
	}
}

func (d *DBus) handlerFor(path dbus.ObjectPath, iface string) (Handler, bool) {
	d.RLock()
	h, ok := d.exported[path][iface]
	d.RUnlock()

	return h, ok
}

type dbusSubscription struct {
	bus  *DBus
	key  objectKey
	ch   chan Notification
	done chan struct{}
	once sync.Once
}

func (s *dbusSubscription) C() <-chan Notification {
	return s.ch
}

func (s *dbusSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)

		s.bus.Lock()
		close(s.ch)
		s.bus.Unlock()
	})

	return nil
}

func (s *dbusSubscription) terminate() {
	s.once.Do(func() {
		close(s.done)

		s.bus.Lock()
		close(s.ch)
		s.bus.Unlock()
	})
}

//---------------------------------------------------------------------------
// exported objects
//---------------------------------------------------------------------------

func callHandler(h Handler, method string, args ...interface{}) ([]interface{}, *dbus.Error) {
	body, err := h.Call(context.Background(), method, args)
	if err != nil {
		if re, ok := err.(*RemoteError); ok {
			return nil, dbus.NewError(re.Name, []interface{}{re.Message})
		}

		return nil, dbus.NewError(errFailed, []interface{}{err.Error()})
	}

	return body, nil
}

type deviceObject struct {
	h Handler
}

func (o *deviceObject) Authorize(flags string) *dbus.Error {
	_, err := callHandler(o.h, "Authorize", flags)
	return err
}

type managerObject struct {
	h Handler
}

func (o *managerObject) ListDevices() ([]dbus.ObjectPath, *dbus.Error) {
	body, err := callHandler(o.h, "ListDevices")
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return []dbus.ObjectPath{}, nil
	}

	paths, ok := PathsOf(body[0])
	if !ok {
		return nil, dbus.NewError(errFailed, []interface{}{"malformed device list"})
	}

	out := make([]dbus.ObjectPath, len(paths))
	for i := range paths {
		out[i] = dbus.ObjectPath(paths[i])
	}

	return out, nil
}

func (o *managerObject) DeviceByUid(uid string) (dbus.ObjectPath, *dbus.Error) {
	body, err := callHandler(o.h, "DeviceByUid", uid)
	if err != nil {
		return "", err
	}

	if len(body) == 0 {
		return "", dbus.NewError(errFailed, []interface{}{"empty reply"})
	}

	path, ok := PathOf(body[0])
	if !ok {
		return "", dbus.NewError(errFailed, []interface{}{"malformed device path"})
	}

	return dbus.ObjectPath(path), nil
}

type propertiesObject struct {
	d    *DBus
	path dbus.ObjectPath
}

func (o *propertiesObject) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	h, ok := o.d.handlerFor(o.path, iface)
	if !ok {
		return dbus.Variant{}, dbus.NewError(errUnknownIface, []interface{}{iface})
	}

	v, ok := h.Properties()[name]
	if !ok || v == nil {
		return dbus.Variant{}, dbus.NewError(errUnknownProp, []interface{}{name})
	}

	return dbus.MakeVariant(toWire([]interface{}{v})[0]), nil
}

func (o *propertiesObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	h, ok := o.d.handlerFor(o.path, iface)
	if !ok {
		return nil, dbus.NewError(errUnknownIface, []interface{}{iface})
	}

	return toVariants(h.Properties()), nil
}

func (o *propertiesObject) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.NewError(errUnknownMethod, []interface{}{"properties are read-only"})
}

//---------------------------------------------------------------------------
// value conversion
//---------------------------------------------------------------------------

func toWire(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case ObjectPath:
			out[i] = dbus.ObjectPath(v)
		case []ObjectPath:
			ps := make([]dbus.ObjectPath, len(v))
			for j := range v {
				ps[j] = dbus.ObjectPath(v[j])
			}
			out[i] = ps
		default:
			out[i] = a
		}
	}

	return out
}

func fromWire(v interface{}) interface{} {
	switch x := v.(type) {
	case dbus.ObjectPath:
		return ObjectPath(x)
	case []dbus.ObjectPath:
		ps := make([]ObjectPath, len(x))
		for i := range x {
			ps[i] = ObjectPath(x[i])
		}
		return ps
	case dbus.Variant:
		return fromWire(x.Value())
	default:
		return v
	}
}

func fromVariants(raw map[string]dbus.Variant) Properties {
	props := make(Properties, len(raw))
	for k, v := range raw {
		props[k] = fromWire(v.Value())
	}

	return props
}

func toVariants(props Properties) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(props))
	for k, v := range props {
		// absent values have no wire representation
		if v == nil {
			continue
		}

		out[k] = dbus.MakeVariant(toWire([]interface{}{v})[0])
	}

	return out
}
