package core

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/agubarev/bolt/internal/config"
	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/registry"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/agubarev/bolt/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Core wires the bus connection, the device registry and the
// optional identity store together for the command line
type Core struct {
	config    *config.Config
	transport transport.Transport
	registry  *registry.Registry
	store     registry.Store
	closers   []io.Closer
	logger    *zap.Logger
	sync.RWMutex
}

// New returns an uninitialized core
func New(c *config.Config) (*Core, error) {
	if c == nil {
		return nil, ErrNilConfig
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &Core{
		config:  c,
		closers: make([]io.Closer, 0),
		logger:  zap.NewNop(),
	}, nil
}

// SetTransport injects an already connected transport; Init then
// skips dialing the bus
func (m *Core) SetTransport(t transport.Transport) error {
	if t == nil {
		return ErrNilTransport
	}

	m.Lock()
	m.transport = t
	m.Unlock()

	return nil
}

// Init connects to the bus if needed, builds the registry and
// opens the identity store when a directory is configured
func (m *Core) Init(ctx context.Context) error {
	m.Lock()
	defer m.Unlock()

	l := m.logger
	l.Debug("initializing the core", zap.String("bus", m.config.Bus), zap.String("service", m.config.Service))

	//---------------------------------------------------------------------------
	// transport
	//---------------------------------------------------------------------------
	if m.transport == nil {
		bus, err := transport.Connect(m.config.BusKind(), m.config.Service)
		if err != nil {
			return err
		}

		if err = bus.SetLogger(m.logger); err != nil {
			return err
		}

		m.transport = bus
		m.closers = append(m.closers, bus)
	}

	//---------------------------------------------------------------------------
	// registry
	//---------------------------------------------------------------------------
	r, err := registry.New(
		m.transport,
		registry.WithLogger(m.logger),
		registry.WithCacheTTL(m.config.CacheTTL),
	)

	if err != nil {
		return errors.Wrap(err, "failed to initialize device registry")
	}

	m.registry = r

	//---------------------------------------------------------------------------
	// identity store
	//---------------------------------------------------------------------------
	if m.config.StoreDir != "" {
		if err = util.CreateDirectoryIfNotExists(m.config.StoreDir, 0750); err != nil {
			return err
		}

		s, err := registry.OpenBadgerStore(m.config.StoreDir)
		if err != nil {
			return err
		}

		l.Debug("identity store opened", zap.String("dir", m.config.StoreDir))

		m.store = s
		m.closers = append(m.closers, s)
	}

	return nil
}

// Config returns the configuration the core was built with
func (m *Core) Config() *config.Config {
	return m.config
}

// Registry returns the device registry
func (m *Core) Registry() (*registry.Registry, error) {
	m.RLock()
	defer m.RUnlock()

	if m.registry == nil {
		return nil, ErrNotInitialized
	}

	return m.registry, nil
}

// Store returns the identity store, if one is configured
func (m *Core) Store() (registry.Store, error) {
	m.RLock()
	defer m.RUnlock()

	if m.store == nil {
		return nil, ErrNoStore
	}

	return m.store, nil
}

// Remember records a device as seen now, keeping its first sighting;
// a no-op when no store is configured
func (m *Core) Remember(ctx context.Context, p *device.Proxy) error {
	s, err := m.Store()
	if err == ErrNoStore {
		return nil
	}

	if p == nil {
		return nil
	}

	now := time.Now()

	id, err := s.Get(ctx, p.UID())
	switch {
	case err == registry.ErrIdentityNotFound:
		id = registry.Identity{UID: p.UID(), FirstSeen: now}
	case err != nil:
		return errors.Wrapf(err, "failed to look up identity %s", p.UID())
	}

	id.Path = p.ObjectPath()
	id.Name = p.Name()
	id.Vendor = p.Vendor()
	id.Type = p.Type()
	id.LastSeen = now

	return s.Put(ctx, id)
}

// Close releases everything Init opened, in reverse order
func (m *Core) Close() error {
	m.Lock()
	defer m.Unlock()

	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}

	m.closers = m.closers[:0]

	return first
}

// SetLogger setting a primary logger for the core
func (m *Core) SetLogger(logger *zap.Logger) error {
	if logger == nil {
		return ErrNilLogger
	}

	m.Lock()
	m.logger = logger
	m.Unlock()

	return nil
}

// Logger returns the primary logger
func (m *Core) Logger() *zap.Logger {
	m.RLock()
	defer m.RUnlock()

	return m.logger
}
