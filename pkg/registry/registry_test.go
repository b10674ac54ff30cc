package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/registry"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	a := assert.New(t)

	_, err := registry.New(nil)
	a.True(errors.Is(err, registry.ErrNilTransport))

	_, err = registry.New(transport.NewMemoryBus(), registry.WithManagerPath("bad path"))
	a.True(errors.Is(err, transport.ErrInvalidPath))

	r, err := registry.New(transport.NewMemoryBus(), registry.WithCacheTTL(time.Minute))
	a.NoError(err)
	a.NotNil(r.Logger())
}

func TestRegistryAuthorizeEndToEnd(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	bus, e, _ := newExporter(t)

	record, err := registry.RecordFromDescriptor(registry.Descriptor{
		Syspath: "/sys/bus/thunderbolt/devices/0-1",
		Attrs: map[string]string{
			registry.AttrUniqueID:   "abc123",
			registry.AttrDeviceName: "Dock",
			registry.AttrVendorName: "ACME",
			registry.AttrAuthorized: "0",
		},
	})
	require.NoError(t, err)

	_, err = e.Export(ctx, record, func(ctx context.Context, uid string, flags device.AuthFlags) error {
		if err := e.SetStatus(ctx, uid, device.StatusAuthorizing); err != nil {
			return err
		}

		return e.SetStatus(ctx, uid, device.StatusAuthorized)
	})
	require.NoError(t, err)

	r, err := registry.New(bus)
	require.NoError(t, err)

	p, err := r.DeviceByUID(ctx, "abc123")
	require.NoError(t, err)
	defer p.Unbind()

	a.Equal("abc123", p.UID())
	a.Equal("Dock", p.Name())
	a.Equal("ACME", p.Vendor())
	a.Equal(device.StatusConnected, p.Status())

	label, ok := p.Label()
	a.False(ok)
	a.Empty(label)

	a.NoError(p.Authorize(ctx, device.AuthNone, time.Second))

	a.Eventually(func() bool {
		return p.Status() == device.StatusAuthorized
	}, time.Second, 5*time.Millisecond)

	a.NotZero(p.AuthorizeTime())

	// the second lookup is served from the resolve cache, only the load goes out
	calls := bus.Calls()
	q, err := r.DeviceByUID(ctx, "abc123")
	require.NoError(t, err)
	defer q.Unbind()

	a.Equal(calls+1, bus.Calls())
	a.Equal(p.ObjectPath(), q.ObjectPath())
}

func TestRegistryPolicyDenied(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	bus, e, _ := newExporter(t)

	_, err := e.Export(ctx, registry.Record{UID: "abc123", Status: device.StatusConnected}, func(ctx context.Context, uid string, flags device.AuthFlags) error {
		return &device.AuthorizeError{Kind: device.AuthRemote, Remote: device.KindPolicyDenied, Message: "denied by policy"}
	})
	require.NoError(t, err)

	r, err := registry.New(bus)
	require.NoError(t, err)

	p, err := r.DeviceByUID(ctx, "abc123")
	require.NoError(t, err)
	defer p.Unbind()

	err = p.Authorize(ctx, device.AuthSecure, time.Second)

	var aerr *device.AuthorizeError
	a.True(errors.As(err, &aerr))
	a.Equal(device.AuthRemote, aerr.Kind)
	a.Equal(device.KindPolicyDenied, aerr.Remote)
	a.Equal("denied by policy", aerr.Message)
	a.False(aerr.Retryable())
	a.Equal(device.StatusConnected, p.Status())
}

func TestRegistryDeviceByUIDErrors(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	bus, e, _ := newExporter(t)

	r, err := registry.New(bus)
	require.NoError(t, err)

	// malformed uid is rejected without touching the bus
	calls := bus.Calls()
	_, err = r.DeviceByUID(ctx, "bad\x00uid")

	var berr *device.BindError
	a.True(errors.As(err, &berr))
	a.Equal(device.BindInvalidIdentity, berr.Kind)
	a.Equal(calls, bus.Calls())

	// unknown to the service
	_, err = r.DeviceByUID(ctx, "nope")
	a.True(errors.As(err, &berr))
	a.Equal(device.BindInvalidIdentity, berr.Kind)

	// device went away after it was resolved
	_, err = e.Export(ctx, registry.Record{UID: "abc123"}, nil)
	require.NoError(t, err)

	p, err := r.DeviceByUID(ctx, "abc123")
	require.NoError(t, err)

	a.NoError(e.Unexport(ctx, "abc123"))

	a.Eventually(p.IsDetached, time.Second, 5*time.Millisecond)

	_, err = r.DeviceByUID(ctx, "abc123")
	a.True(errors.As(err, &berr))
	a.Equal(device.BindInvalidIdentity, berr.Kind)

	// no manager at all
	r2, err := registry.New(transport.NewMemoryBus())
	require.NoError(t, err)

	_, err = r2.DeviceByUID(ctx, "abc123")
	a.True(errors.As(err, &berr))
	a.Equal(device.BindUnreachable, berr.Kind)
}

func TestRegistryListDevices(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	bus, e, _ := newExporter(t)

	for _, uid := range []string{"host", "dock", "disk"} {
		_, err := e.Export(ctx, registry.Record{UID: uid, Name: uid}, nil)
		require.NoError(t, err)
	}

	r, err := registry.New(bus)
	require.NoError(t, err)

	proxies, err := r.ListDevices(ctx)
	a.NoError(err)
	a.Len(proxies, 3)

	names := make([]string, 0, len(proxies))
	for _, p := range proxies {
		names = append(names, p.Name())
		a.NoError(p.Unbind())
	}

	a.ElementsMatch([]string{"host", "dock", "disk"}, names)

	// paths learned from the listing resolve without asking the manager
	calls := bus.Calls()
	p, err := r.DeviceByUID(ctx, "dock")
	require.NoError(t, err)
	defer p.Unbind()
	a.Equal(calls+1, bus.Calls())

	p2, err := r.FromDescriptor(ctx, registry.Descriptor{Attrs: map[string]string{registry.AttrUniqueID: "disk"}})
	require.NoError(t, err)
	defer p2.Unbind()
	a.Equal("disk", p2.Name())
}

func TestRegistryWatch(t *testing.T) {
	a := assert.New(t)

	bus, e, _ := newExporter(t)

	r, err := registry.New(bus)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan registry.Event, 8)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, func(ev registry.Event) {
			events <- ev
		})
	}()

	a.Eventually(func() bool {
		return bus.Subscribers(transport.ManagerPath, transport.ManagerIface) == 1
	}, time.Second, 5*time.Millisecond)

	path, err := e.Export(context.Background(), registry.Record{UID: "abc123"}, nil)
	require.NoError(t, err)

	ev := <-events
	a.Equal(registry.DeviceAdded, ev.Kind)
	a.Equal(path, ev.Path)

	// resolve it so the registry learns the uid
	p, err := r.DeviceByUID(context.Background(), "abc123")
	require.NoError(t, err)
	defer p.Unbind()

	a.NoError(e.Unexport(context.Background(), "abc123"))

	ev = <-events
	a.Equal(registry.DeviceRemoved, ev.Kind)
	a.Equal(path, ev.Path)
	a.Equal("abc123", ev.UID)

	cancel()
	a.True(errors.Is(<-done, context.Canceled))
}
