package cmd

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agubarev/bolt/internal/config"
	"github.com/agubarev/bolt/internal/core"
	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/registry"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	buf bytes.Buffer
	sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.Lock()
	defer b.Unlock()

	return b.buf.String()
}

func TestPrintSnapshot(t *testing.T) {
	a := assert.New(t)

	var out bytes.Buffer
	printSnapshot(&out, device.Snapshot{
		UID:      "abc123",
		Name:     "Dock",
		Vendor:   "ACME",
		Type:     device.TypePeripheral,
		Status:   device.StatusConnected,
		Label:    "desk",
		HasLabel: true,
	})

	a.Contains(out.String(), " ● desk\n")
	a.Contains(out.String(), "uuid:          abc123")
	a.Contains(out.String(), "status:        connected")
	a.Contains(out.String(), "stored:        no")
	a.Equal("no", formatTime(0))
}

func TestMonitor(t *testing.T) {
	a := assert.New(t)

	cfg, err := config.Decode(config.New())
	require.NoError(t, err)

	bus := transport.NewMemoryBus()
	e, err := registry.NewExporter(bus, registry.NewMemoryStore())
	require.NoError(t, err)

	m, err := core.New(cfg)
	require.NoError(t, err)
	require.NoError(t, m.SetTransport(bus))
	require.NoError(t, m.Init(context.Background()))
	defer m.Close()

	_, err = e.Export(context.Background(), registry.Record{UID: "dock", Name: "Dock", Status: device.StatusConnected}, nil)
	require.NoError(t, err)

	r, err := m.Registry()
	require.NoError(t, err)

	out := &lockedBuffer{}
	mon := newMonitor(m, r, out)
	defer mon.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- mon.run(ctx)
	}()

	a.Eventually(func() bool {
		return bus.Subscribers(transport.ManagerPath, transport.ManagerIface) == 1
	}, time.Second, 5*time.Millisecond)

	a.Contains(out.String(), "monitoring 1 device(s)")

	a.NoError(e.SetStatus(context.Background(), "dock", device.StatusAuthorized))
	a.Eventually(func() bool {
		return strings.Contains(out.String(), "[dock] status: ")
	}, time.Second, 5*time.Millisecond)

	_, err = e.Export(context.Background(), registry.Record{UID: "disk", Name: "Disk"}, nil)
	require.NoError(t, err)
	a.Eventually(func() bool {
		return strings.Contains(out.String(), "[disk] added (Disk)")
	}, time.Second, 5*time.Millisecond)

	a.NoError(e.Unexport(context.Background(), "disk"))
	a.Eventually(func() bool {
		return strings.Contains(out.String(), "[disk] removed")
	}, time.Second, 5*time.Millisecond)

	cancel()
	a.True(errors.Is(<-done, context.Canceled))
}

func TestMonitorChangeBeforeTracking(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	cfg, err := config.Decode(config.New())
	require.NoError(t, err)

	bus := transport.NewMemoryBus()
	e, err := registry.NewExporter(bus, registry.NewMemoryStore())
	require.NoError(t, err)

	m, err := core.New(cfg)
	require.NoError(t, err)
	require.NoError(t, m.SetTransport(bus))
	require.NoError(t, m.Init(ctx))
	defer m.Close()

	_, err = e.Export(ctx, registry.Record{UID: "dock", Name: "Dock", Status: device.StatusConnected}, nil)
	require.NoError(t, err)

	r, err := m.Registry()
	require.NoError(t, err)

	out := &lockedBuffer{}
	mon := newMonitor(m, r, out)
	defer mon.close()

	p, err := r.DeviceByUID(ctx, "dock")
	require.NoError(t, err)

	// a change arriving between bind and track is reported, not dropped
	mon.changed(p, []device.Attribute{device.AttrStatus})
	a.Contains(out.String(), "[dock] status changed")

	baseline := mon.snapshots[p.ObjectPath()]
	mon.track(ctx, p)
	a.Equal(baseline, mon.snapshots[p.ObjectPath()])
}
