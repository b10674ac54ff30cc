package device

import (
	"context"
	"time"

	"github.com/agubarev/bolt/pkg/remote"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/agubarev/bolt/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChangeHandler is called after notifications changed some attributes;
// the attribute list is empty when the device went away
type ChangeHandler func(p *Proxy, changed []Attribute)

type options struct {
	schema   *Schema
	logger   *zap.Logger
	uid      string
	onChange ChangeHandler
}

// Option configures a proxy at bind time
type Option func(o *options)

// WithSchema overrides the attribute table
func WithSchema(s *Schema) Option {
	return func(o *options) {
		o.schema = s
	}
}

// WithLogger sets the logger the proxy reports decode failures
// and authorization requests to
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithUID tells the proxy which uid the caller resolved this path from
func WithUID(uid string) Option {
	return func(o *options) {
		o.uid = uid
	}
}

// WithChangeHandler registers a callback for attribute changes
func WithChangeHandler(fn ChangeHandler) Option {
	return func(o *options) {
		o.onChange = fn
	}
}

// Proxy is the client-side view of one remote device
type Proxy struct {
	object   *remote.Object
	schema   *Schema
	uid      string
	onChange ChangeHandler
	logger   *zap.Logger
}

// Bind attaches a proxy to the device object at the given path
// and loads its current state
func Bind(ctx context.Context, t transport.Transport, path string, opts ...Option) (*Proxy, error) {
	o := options{schema: DefaultSchema}
	for _, opt := range opts {
		opt(&o)
	}

	if o.schema == nil {
		o.schema = DefaultSchema
	}

	if t == nil {
		return nil, &BindError{Kind: BindUnreachable, Identity: path, Err: ErrNilTransport}
	}

	obj, err := remote.New(t, path, transport.DeviceIface)
	if err != nil {
		return nil, &BindError{Kind: BindInvalidIdentity, Identity: path, Err: err}
	}

	p := &Proxy{
		object:   obj,
		schema:   o.schema,
		onChange: o.onChange,
	}

	p.SetLogger(o.logger)

	if err = obj.Load(ctx); err != nil {
		return nil, &BindError{Kind: BindUnreachable, Identity: path, Err: err}
	}

	p.uid = p.stringFrom(p.object, AttrUID)
	if _, present := obj.Get(o.schema.fields[AttrUID].Key); !present && o.uid != "" {
		p.uid = o.uid
	} else if o.uid != "" && o.uid != p.uid {
		p.Logger().Warn("remote uid differs from the requested one",
			zap.String("path", path),
			zap.String("requested", o.uid),
			zap.String("remote", p.uid),
		)
	}

	obj.Start(p.handleChange)

	p.Logger().Debug("bound device proxy", zap.String("path", path), zap.String("uid", p.uid))

	return p, nil
}

// SetLogger replaces the proxy logger, it must not be called concurrently
// with notifications being applied
func (p *Proxy) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p.logger = logger.Named("[device]")
}

func (p *Proxy) Logger() *zap.Logger {
	return p.logger
}

func (p *Proxy) handleChange(keys []string, gone bool) {
	if gone {
		p.Logger().Info("device is gone, proxy detached", zap.String("uid", p.uid))

		if p.onChange != nil {
			p.onChange(p, nil)
		}

		return
	}

	attrs := make([]Attribute, 0, len(keys))
	for _, k := range keys {
		a, ok := p.schema.Lookup(k)
		if !ok {
			continue
		}

		if a == AttrUID {
			p.Logger().Warn("ignoring remote uid change", zap.String("uid", p.uid))
			continue
		}

		attrs = append(attrs, a)
	}

	if len(attrs) > 0 && p.onChange != nil {
		p.onChange(p, attrs)
	}
}

// Apply feeds a notification to the proxy directly, in addition to the ones
// arriving through its own subscription
func (p *Proxy) Apply(n transport.Notification) {
	p.object.Apply(n)
}

// Unbind stops following the remote device; the last known state stays readable
func (p *Proxy) Unbind() error {
	if p.object.Close() {
		p.Logger().Debug("unbound device proxy", zap.String("uid", p.uid))
	}

	return nil
}

// IsDetached tells whether the proxy still follows its device
func (p *Proxy) IsDetached() bool {
	return p.object.IsDetached()
}

// ObjectPath returns the path the proxy is bound to
func (p *Proxy) ObjectPath() string {
	return p.object.Path()
}

// Done is closed once the proxy stopped applying notifications
func (p *Proxy) Done() <-chan struct{} {
	return p.object.Done()
}

//---------------------------------------------------------------------------
// accessors
//---------------------------------------------------------------------------

func (p *Proxy) reportDecodeError(err error) {
	var derr *PropertyDecodeError
	if errors.As(err, &derr) {
		p.Logger().Warn("failed to decode device property",
			zap.String("uid", p.uid),
			zap.String("key", derr.Key),
			zap.Any("raw", derr.Raw),
			zap.String("reason", derr.Reason),
		)
	}
}

// UID is fixed at bind time
func (p *Proxy) UID() string {
	return p.uid
}

func (p *Proxy) Name() string {
	return p.stringFrom(p.object, AttrName)
}

func (p *Proxy) Vendor() string {
	return p.stringFrom(p.object, AttrVendor)
}

func (p *Proxy) Type() Type {
	return Type(p.enumFrom(p.object, AttrType))
}

func (p *Proxy) Status() Status {
	return Status(p.enumFrom(p.object, AttrStatus))
}

// Parent is the uid of the upstream device, empty for hosts
func (p *Proxy) Parent() string {
	return p.stringFrom(p.object, AttrParent)
}

func (p *Proxy) Syspath() string {
	return p.stringFrom(p.object, AttrSyspath)
}

// ConnectTime is a unix timestamp in seconds, 0 if unknown
func (p *Proxy) ConnectTime() uint64 {
	return p.uint64From(p.object, AttrConnectTime)
}

// AuthorizeTime is a unix timestamp in seconds, 0 if never authorized
func (p *Proxy) AuthorizeTime() uint64 {
	return p.uint64From(p.object, AttrAuthorizeTime)
}

// StoreTime is a unix timestamp in seconds, 0 if not stored
func (p *Proxy) StoreTime() uint64 {
	return p.uint64From(p.object, AttrStoreTime)
}

func (p *Proxy) IsStored() bool {
	return p.boolFrom(p.object, AttrStored)
}

func (p *Proxy) Policy() Policy {
	return Policy(p.enumFrom(p.object, AttrPolicy))
}

func (p *Proxy) KeyState() KeyState {
	return KeyState(p.enumFrom(p.object, AttrKeyState))
}

// Label returns the user-assigned label and whether one is set
func (p *Proxy) Label() (string, bool) {
	v, ok, err := p.schema.DecodeNullableString(p.object, AttrLabel)
	if err != nil {
		p.reportDecodeError(err)
	}

	return v, ok
}

//---------------------------------------------------------------------------
// authorization
//---------------------------------------------------------------------------

// Authorize asks the service to authorize the device and blocks until it
// replied, ctx is done or timeout (when positive) has passed. The resulting
// status change arrives later as a regular notification.
func (p *Proxy) Authorize(ctx context.Context, flags AuthFlags, timeout time.Duration) error {
	if p.IsDetached() {
		return &BindError{Kind: BindDetached, Identity: p.ObjectPath(), Err: ErrDetached}
	}

	arg, err := EncodeAuthFlags(flags)
	if err != nil {
		return &AuthorizeError{Kind: AuthFlagEncoding, Message: err.Error(), Err: err}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := p.Logger().With(
		zap.String("request_id", util.NewULID().String()),
		zap.String("uid", p.uid),
		zap.String("flags", arg),
	)

	logger.Debug("authorizing device")

	if _, err = p.object.Call(ctx, "Authorize", arg); err != nil {
		if errors.Is(err, remote.ErrDetached) {
			return &BindError{Kind: BindDetached, Identity: p.ObjectPath(), Err: ErrDetached}
		}

		aerr := Translate(ctx, err)
		logger.Warn("device authorization failed",
			zap.String("kind", aerr.Kind.String()),
			zap.String("remote", aerr.Remote.String()),
			zap.String("message", aerr.Message),
		)

		return aerr
	}

	logger.Info("device authorization accepted")

	return nil
}
