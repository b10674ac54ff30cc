package registry

import (
	"context"
	"time"

	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// errors
var (
	ErrNilTransport     = errors.New("transport is nil")
	ErrNilPublisher     = errors.New("publisher is nil")
	ErrNilStore         = errors.New("identity store is nil")
	ErrNilDatabase      = errors.New("database is nil")
	ErrEmptyUID         = errors.New("device uid is empty")
	ErrInvalidUID       = errors.New("device uid is invalid")
	ErrIdentityNotFound = errors.New("device identity not found")
	ErrAlreadyExported  = errors.New("device is already exported")
	ErrNotExported      = errors.New("device is not exported")
	ErrImmutableUID     = errors.New("device uid cannot be changed")
)

const unknownUID = "unknown"

// EventKind tells what happened to a device
type EventKind uint8

// event kinds
const (
	DeviceAdded EventKind = iota + 1
	DeviceRemoved
)

func (k EventKind) String() string {
	switch k {
	case DeviceAdded:
		return "added"
	case DeviceRemoved:
		return "removed"
	default:
		return "unknown event"
	}
}

// Event is a device appearing on or disappearing from the bus;
// UID is only known for devices resolved through this registry
type Event struct {
	Kind EventKind
	Path string
	UID  string
}

// Registry resolves device identities to bound proxies
type Registry struct {
	transport   transport.Transport
	schema      *device.Schema
	cache       *resolveCache
	cacheTTL    time.Duration
	managerPath string
	base        *zap.Logger
	logger      *zap.Logger
}

// Option configures a registry
type Option func(r *Registry)

// WithLogger sets the logger handed down to every bound proxy
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithSchema overrides the attribute table of bound proxies
func WithSchema(s *device.Schema) Option {
	return func(r *Registry) {
		r.schema = s
	}
}

// WithCacheTTL sets how long resolved paths are trusted
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.cacheTTL = ttl
	}
}

// WithManagerPath overrides the object path of the manager
func WithManagerPath(path string) Option {
	return func(r *Registry) {
		r.managerPath = path
	}
}

// New initializes a registry on top of a transport
func New(t transport.Transport, opts ...Option) (*Registry, error) {
	if t == nil {
		return nil, ErrNilTransport
	}

	r := &Registry{
		transport:   t,
		schema:      device.DefaultSchema,
		cacheTTL:    DefaultResolveTTL,
		managerPath: transport.ManagerPath,
	}

	for _, opt := range opts {
		opt(r)
	}

	if err := transport.ValidatePath(r.managerPath); err != nil {
		return nil, errors.Wrapf(err, "manager path %q", r.managerPath)
	}

	cache, err := newResolveCache(r.cacheTTL)
	if err != nil {
		return nil, err
	}

	r.cache = cache

	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	r.base = r.logger
	r.logger = r.logger.Named("[registry]")

	return r, nil
}

func (r *Registry) Logger() *zap.Logger {
	return r.logger
}

func (r *Registry) bindOptions(uid string) []device.Option {
	return []device.Option{
		device.WithSchema(r.schema),
		device.WithLogger(r.base),
		device.WithUID(uid),
	}
}

// DeviceByUID resolves a device uid through the manager and binds a proxy to it
func (r *Registry) DeviceByUID(ctx context.Context, uid string, opts ...device.Option) (*device.Proxy, error) {
	norm, err := NormalizeUID(uid)
	if err != nil {
		return nil, &device.BindError{Kind: device.BindInvalidIdentity, Identity: uid, Err: err}
	}

	path, cached := r.cache.Get(norm)
	if !cached {
		if path, err = r.resolve(ctx, norm); err != nil {
			return nil, err
		}
	}

	p, err := device.Bind(ctx, r.transport, path, append(r.bindOptions(norm), opts...)...)
	if err != nil {
		// the cached path may belong to a device that went away meanwhile
		r.cache.Delete(norm)

		var berr *device.BindError
		if cached && errors.As(err, &berr) && berr.Kind == device.BindUnreachable {
			r.logger.Debug("cached path is stale, resolving again", zap.String("uid", norm), zap.String("path", path))

			if path, err = r.resolve(ctx, norm); err != nil {
				return nil, err
			}

			return device.Bind(ctx, r.transport, path, append(r.bindOptions(norm), opts...)...)
		}

		return nil, err
	}

	return p, nil
}

func (r *Registry) resolve(ctx context.Context, uid string) (string, error) {
	body, err := r.transport.Call(ctx, r.managerPath, transport.ManagerIface, "DeviceByUid", uid)
	if err != nil {
		var rerr *transport.RemoteError
		if errors.As(err, &rerr) {
			// the manager answered, it just does not know the device
			return "", &device.BindError{Kind: device.BindInvalidIdentity, Identity: uid, Err: err}
		}

		return "", &device.BindError{Kind: device.BindUnreachable, Identity: uid, Err: err}
	}

	if len(body) == 0 {
		return "", &device.BindError{Kind: device.BindUnreachable, Identity: uid, Err: transport.ErrMalformedReply}
	}

	path, ok := transport.PathOf(body[0])
	if !ok {
		return "", &device.BindError{Kind: device.BindUnreachable, Identity: uid, Err: transport.ErrMalformedReply}
	}

	if err = r.cache.Put(uid, path); err != nil {
		r.logger.Warn("failed to cache resolved path", zap.String("uid", uid), zap.Error(err))
	}

	return path, nil
}

// DeviceByPath binds a proxy to a known object path
func (r *Registry) DeviceByPath(ctx context.Context, path string, opts ...device.Option) (*device.Proxy, error) {
	bopts := []device.Option{device.WithSchema(r.schema), device.WithLogger(r.base)}

	p, err := device.Bind(ctx, r.transport, path, append(bopts, opts...)...)
	if err != nil {
		return nil, err
	}

	// a device not reporting its uid cannot be found by it later anyway
	if uid, err := NormalizeUID(p.UID()); err == nil && uid == p.UID() && uid != unknownUID {
		if err = r.cache.Put(uid, path); err != nil {
			r.logger.Warn("failed to cache path", zap.String("uid", uid), zap.Error(err))
		}
	}

	return p, nil
}

// ListDevices binds proxies to every device the manager currently knows;
// devices vanishing while the list is processed are skipped
func (r *Registry) ListDevices(ctx context.Context, opts ...device.Option) ([]*device.Proxy, error) {
	body, err := r.transport.Call(ctx, r.managerPath, transport.ManagerIface, "ListDevices")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}

	if len(body) == 0 {
		return nil, transport.ErrMalformedReply
	}

	paths, ok := transport.PathsOf(body[0])
	if !ok {
		return nil, errors.Wrapf(transport.ErrMalformedReply, "device list is %T", body[0])
	}

	proxies := make([]*device.Proxy, 0, len(paths))
	for _, path := range paths {
		p, err := r.DeviceByPath(ctx, path, opts...)
		if err != nil {
			var berr *device.BindError
			if errors.As(err, &berr) && berr.Kind == device.BindUnreachable && ctx.Err() == nil {
				r.logger.Debug("device vanished while listing", zap.String("path", path), zap.Error(err))
				continue
			}

			for _, bound := range proxies {
				_ = bound.Unbind()
			}

			return nil, err
		}

		proxies = append(proxies, p)
	}

	return proxies, nil
}

// FromDescriptor resolves the device an enumeration descriptor refers to
func (r *Registry) FromDescriptor(ctx context.Context, d Descriptor, opts ...device.Option) (*device.Proxy, error) {
	return r.DeviceByUID(ctx, d.UID(), opts...)
}

// Watch reports devices being added and removed until ctx is done
// or the transport goes away; fn is called sequentially
func (r *Registry) Watch(ctx context.Context, fn func(Event)) error {
	sub, err := r.transport.Subscribe(r.managerPath, transport.ManagerIface)
	if err != nil {
		return errors.Wrap(err, "failed to watch the manager")
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub.C():
			if !ok {
				return transport.ErrClosed
			}

			if n.Gone {
				return errors.Wrap(transport.ErrClosed, "manager is gone")
			}

			if ev, ok := r.event(n); ok && fn != nil {
				fn(ev)
			}
		}
	}
}

func (r *Registry) event(n transport.Notification) (Event, bool) {
	var ev Event

	switch n.Member {
	case SignalDeviceAdded:
		ev.Kind = DeviceAdded
	case SignalDeviceRemoved:
		ev.Kind = DeviceRemoved
	default:
		return ev, false
	}

	if len(n.Args) == 0 {
		return ev, false
	}

	path, ok := transport.PathOf(n.Args[0])
	if !ok {
		r.logger.Warn("malformed device signal", zap.String("member", n.Member), zap.Any("args", n.Args))
		return ev, false
	}

	ev.Path = path

	if ev.Kind == DeviceRemoved {
		if uids := r.cache.EvictPath(path); len(uids) > 0 {
			ev.UID = uids[0]
		}
	} else if uid, ok := r.cache.UIDOf(path); ok {
		ev.UID = uid
	}

	return ev, true
}
