package remote

import (
	"context"
	"sync"

	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
)

// errors
var (
	ErrNilTransport = errors.New("transport is nil")
	ErrDetached     = errors.New("remote object is detached")
	ErrAlreadyOpen  = errors.New("remote object is already open")
)

// ChangeFunc is invoked from the pump after a notification has been applied;
// keys are the property keys that changed or were invalidated
type ChangeFunc func(keys []string, gone bool)

// Object is a cached client-side view of one interface on a remote object.
// Cached properties change only by applying notifications, which happens
// in arrival order on a single goroutine.
type Object struct {
	transport transport.Transport
	path      string
	iface     string
	props     transport.Properties
	mark      uint64
	sub       transport.Subscription
	onChange  ChangeFunc
	detached  bool
	done      chan struct{}
	startOnce sync.Once
	sync.RWMutex
}

// New returns an unopened object view, validating the path without any I/O
func New(t transport.Transport, path, iface string) (*Object, error) {
	if t == nil {
		return nil, ErrNilTransport
	}

	if err := transport.ValidatePath(path); err != nil {
		return nil, errors.Wrapf(err, "%q", path)
	}

	return &Object{
		transport: t,
		path:      path,
		iface:     iface,
		props:     make(transport.Properties),
		done:      make(chan struct{}),
	}, nil
}

// Path returns the object path
func (o *Object) Path() string {
	return o.path
}

// Interface returns the interface this view is bound to
func (o *Object) Interface() string {
	return o.iface
}

// Open loads the object and starts applying notifications in the background
func (o *Object) Open(ctx context.Context, onChange ChangeFunc) error {
	if err := o.Load(ctx); err != nil {
		return err
	}

	o.Start(onChange)

	return nil
}

// Load subscribes to notifications and loads the initial property set;
// notifications queue up until Start is called, the ones older than the
// loaded state are skipped by Apply
func (o *Object) Load(ctx context.Context) error {
	o.Lock()
	if o.sub != nil {
		o.Unlock()
		return ErrAlreadyOpen
	}

	if o.detached {
		o.Unlock()
		return ErrDetached
	}

	sub, err := o.transport.Subscribe(o.path, o.iface)
	if err != nil {
		o.Unlock()
		return errors.Wrapf(err, "failed to subscribe to %s", o.path)
	}

	o.sub = sub
	o.Unlock()

	if err = o.Refresh(ctx); err != nil {
		o.Close()
		return err
	}

	return nil
}

// Start runs the notification pump, at most once and only after a successful Load
func (o *Object) Start(onChange ChangeFunc) {
	o.Lock()
	o.onChange = onChange
	sub := o.sub
	detached := o.detached
	o.Unlock()

	o.startOnce.Do(func() {
		if sub == nil || detached {
			close(o.done)
			return
		}

		go o.pump(sub)
	})
}

func (o *Object) pump(sub transport.Subscription) {
	defer close(o.done)

	for n := range sub.C() {
		o.Apply(n)
	}

	// the transport closing the stream means the object is unreachable
	o.Close()
}

// Refresh replaces the whole cache with a freshly loaded property set.
// The transport mark is taken before the request, so notifications
// stamped at or below it are already reflected in the reply; later ones
// may be too, but replaying them in order ends in the same state.
func (o *Object) Refresh(ctx context.Context) error {
	if o.IsDetached() {
		return ErrDetached
	}

	mark := transport.MarkOf(o.transport)

	props, err := o.transport.GetAll(ctx, o.path, o.iface)
	if err != nil {
		return errors.Wrapf(err, "failed to load properties of %s", o.path)
	}

	o.Lock()
	o.props = props.Clone()
	if mark > o.mark {
		o.mark = mark
	}
	o.Unlock()

	return nil
}

// stale tells whether a stamped notification predates the loaded state
func (o *Object) stale(n transport.Notification) bool {
	if n.Seq == 0 {
		return false
	}

	o.RLock()
	defer o.RUnlock()

	return n.Seq <= o.mark
}

// Apply merges one notification into the cache; it is a no-op once detached,
// for notifications of other objects or interfaces, and for stamped ones
// the loaded state already covers
func (o *Object) Apply(n transport.Notification) {
	if n.Path != o.path || (n.Interface != "" && n.Interface != o.iface) {
		return
	}

	if o.stale(n) {
		return
	}

	if n.Gone {
		if o.Close() {
			o.changed(nil, true)
		}

		return
	}

	if !n.IsPropertyChange() {
		return
	}

	o.Lock()
	if o.detached {
		o.Unlock()
		return
	}

	keys := make([]string, 0, len(n.Changed)+len(n.Invalidated))
	for k, v := range n.Changed {
		o.props[k] = v
		keys = append(keys, k)
	}

	for _, k := range n.Invalidated {
		delete(o.props, k)
		keys = append(keys, k)
	}
	o.Unlock()

	if len(keys) > 0 {
		o.changed(keys, false)
	}
}

func (o *Object) changed(keys []string, gone bool) {
	o.RLock()
	fn := o.onChange
	o.RUnlock()

	if fn != nil {
		fn(keys, gone)
	}
}

// Get returns a cached raw value
func (o *Object) Get(key string) (interface{}, bool) {
	o.RLock()
	defer o.RUnlock()

	v, ok := o.props[key]
	return v, ok
}

// Properties returns a copy of the whole cache
func (o *Object) Properties() transport.Properties {
	o.RLock()
	defer o.RUnlock()

	return o.props.Clone()
}

// Call invokes a method on the remote object
func (o *Object) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if o.IsDetached() {
		return nil, ErrDetached
	}

	return o.transport.Call(ctx, o.path, o.iface, method, args...)
}

// IsDetached tells whether the view no longer follows the remote object
func (o *Object) IsDetached() bool {
	o.RLock()
	defer o.RUnlock()

	return o.detached
}

// Close detaches the view and stops the subscription, keeping the last known state;
// it returns true only for the call that actually detached it
func (o *Object) Close() bool {
	o.Lock()
	if o.detached {
		o.Unlock()
		return false
	}

	o.detached = true
	sub := o.sub
	o.Unlock()

	if sub != nil {
		_ = sub.Close()
	}

	return true
}

// Done is closed once the pump has stopped
func (o *Object) Done() <-chan struct{} {
	return o.done
}
