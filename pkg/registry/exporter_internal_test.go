package registry

import (
	"context"
	"testing"

	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAfterUnexportEmitsNothing(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	bus := transport.NewMemoryBus()
	e, err := NewExporter(bus, NewMemoryStore())
	require.NoError(t, err)

	path, err := e.Export(ctx, Record{UID: "abc123", Status: device.StatusConnected}, nil)
	require.NoError(t, err)

	// an update that looked the device up just before it was unexported
	e.RLock()
	d := e.devices["abc123"]
	e.RUnlock()
	require.NotNil(t, d)

	sub, err := bus.Subscribe(path, transport.DeviceIface)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, e.Unexport(ctx, "abc123"))

	err = d.update(bus, transport.Properties{key(device.AttrStatus): uint32(device.StatusAuthorized)})
	a.True(errors.Is(err, ErrNotExported))

	n := <-sub.C()
	a.True(n.Gone)

	select {
	case n, ok := <-sub.C():
		a.False(ok && n.IsPropertyChange(), "property change emitted for an unexported device")
	default:
	}
}
