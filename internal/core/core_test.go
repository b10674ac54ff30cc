package core_test

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/agubarev/bolt/internal/config"
	"github.com/agubarev/bolt/internal/core"
	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/registry"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCore(t *testing.T, storeDir string) (*core.Core, *registry.Exporter) {
	cfg, err := config.Decode(config.New())
	require.NoError(t, err)
	cfg.StoreDir = storeDir

	bus := transport.NewMemoryBus()
	e, err := registry.NewExporter(bus, registry.NewMemoryStore())
	require.NoError(t, err)

	c, err := core.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.SetLogger(zap.NewNop()))
	require.NoError(t, c.SetTransport(bus))
	require.NoError(t, c.Init(context.Background()))

	return c, e
}

func TestNewCore(t *testing.T) {
	a := assert.New(t)

	_, err := core.New(nil)
	a.True(errors.Is(err, core.ErrNilConfig))

	cfg, err := config.Decode(config.New())
	require.NoError(t, err)

	c, err := core.New(cfg)
	require.NoError(t, err)

	a.True(errors.Is(c.SetLogger(nil), core.ErrNilLogger))
	a.True(errors.Is(c.SetTransport(nil), core.ErrNilTransport))

	_, err = c.Registry()
	a.True(errors.Is(err, core.ErrNotInitialized))
}

func TestCoreWithoutStore(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	c, e := newCore(t, "")
	defer c.Close()

	_, err := e.Export(ctx, registry.Record{UID: "abc123", Name: "Dock"}, nil)
	require.NoError(t, err)

	r, err := c.Registry()
	require.NoError(t, err)

	p, err := r.DeviceByUID(ctx, "abc123")
	require.NoError(t, err)
	defer p.Unbind()

	_, err = c.Store()
	a.True(errors.Is(err, core.ErrNoStore))
	a.NoError(c.Remember(ctx, p))
}

func TestCoreRemember(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	dir, err := ioutil.TempDir("", "boltctl-core")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c, e := newCore(t, dir)

	path, err := e.Export(ctx, registry.Record{UID: "abc123", Name: "Dock", Vendor: "ACME", Type: device.TypePeripheral}, nil)
	require.NoError(t, err)

	r, err := c.Registry()
	require.NoError(t, err)

	p, err := r.DeviceByUID(ctx, "abc123")
	require.NoError(t, err)
	defer p.Unbind()

	a.NoError(c.Remember(ctx, p))

	s, err := c.Store()
	require.NoError(t, err)

	first, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	a.Equal(path, first.Path)
	a.Equal("Dock", first.Name)
	a.Equal("ACME", first.Vendor)
	a.False(first.FirstSeen.IsZero())

	a.NoError(c.Remember(ctx, p))

	second, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	a.True(first.FirstSeen.Equal(second.FirstSeen))
	a.False(second.LastSeen.Before(first.LastSeen))

	a.NoError(c.Close())
	a.NoError(c.Close())
}
