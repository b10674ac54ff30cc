package remote_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agubarev/bolt/pkg/remote"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPath  = "/org/example/Thing"
	testIface = "org.example.Thing"
)

type staticHandler struct {
	props transport.Properties
}

func (h *staticHandler) Properties() transport.Properties {
	return h.props
}

func (h *staticHandler) Call(ctx context.Context, method string, args []interface{}) ([]interface{}, error) {
	return []interface{}{method, len(args)}, nil
}

func TestObjectNew(t *testing.T) {
	a := assert.New(t)

	_, err := remote.New(nil, testPath, testIface)
	a.True(errors.Is(err, remote.ErrNilTransport))

	_, err = remote.New(transport.NewMemoryBus(), "bad path", testIface)
	a.True(errors.Is(err, transport.ErrInvalidPath))

	o, err := remote.New(transport.NewMemoryBus(), testPath, testIface)
	a.NoError(err)
	a.Equal(testPath, o.Path())
	a.Equal(testIface, o.Interface())
	a.False(o.IsDetached())
}

func TestObjectOpenAndFollow(t *testing.T) {
	a := assert.New(t)

	bus := transport.NewMemoryBus()
	require.NoError(t, bus.Publish(testPath, testIface, &staticHandler{
		props: transport.Properties{"Counter": uint32(0), "Color": "red"},
	}))

	o, err := remote.New(bus, testPath, testIface)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen [][]string

	a.NoError(o.Open(context.Background(), func(keys []string, gone bool) {
		mu.Lock()
		seen = append(seen, keys)
		mu.Unlock()
	}))
	defer o.Close()

	a.True(errors.Is(o.Open(context.Background(), nil), remote.ErrAlreadyOpen))

	v, ok := o.Get("Counter")
	a.True(ok)
	a.Equal(uint32(0), v)

	for i := 1; i <= 10; i++ {
		a.NoError(bus.EmitChanged(testPath, testIface, transport.Properties{"Counter": uint32(i)}))
	}

	a.NoError(bus.EmitChanged(testPath, testIface, transport.Properties{}))
	a.NoError(bus.Emit(testPath, testIface, "Poked", "x"))
	a.NoError(bus.EmitChanged(testPath, testIface, nil))

	a.Eventually(func() bool {
		v, _ := o.Get("Counter")
		return v == uint32(10)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	a.Len(seen, 10)
	mu.Unlock()

	props := o.Properties()
	props["Color"] = "blue"
	v, _ = o.Get("Color")
	a.Equal("red", v)

	body, err := o.Call(context.Background(), "Ping", 1, 2)
	a.NoError(err)
	a.Equal([]interface{}{"Ping", 2}, body)
}

func TestObjectCloseKeepsState(t *testing.T) {
	a := assert.New(t)

	bus := transport.NewMemoryBus()
	require.NoError(t, bus.Publish(testPath, testIface, &staticHandler{
		props: transport.Properties{"Color": "red"},
	}))

	o, err := remote.New(bus, testPath, testIface)
	require.NoError(t, err)
	require.NoError(t, o.Open(context.Background(), nil))

	a.True(o.Close())
	a.False(o.Close())
	a.True(o.IsDetached())

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}

	v, ok := o.Get("Color")
	a.True(ok)
	a.Equal("red", v)

	calls := bus.Calls()
	_, err = o.Call(context.Background(), "Ping")
	a.True(errors.Is(err, remote.ErrDetached))
	a.True(errors.Is(o.Refresh(context.Background()), remote.ErrDetached))
	a.Equal(calls, bus.Calls())
}

func TestObjectTransportClosed(t *testing.T) {
	a := assert.New(t)

	bus := transport.NewMemoryBus()
	require.NoError(t, bus.Publish(testPath, testIface, &staticHandler{
		props: transport.Properties{},
	}))

	o, err := remote.New(bus, testPath, testIface)
	require.NoError(t, err)
	require.NoError(t, o.Open(context.Background(), nil))

	a.NoError(bus.Close())

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}

	a.True(o.IsDetached())
}

func TestObjectSkipsNotificationsOlderThanLoad(t *testing.T) {
	a := assert.New(t)

	bus := transport.NewMemoryBus()
	require.NoError(t, bus.Publish(testPath, testIface, &staticHandler{
		props: transport.Properties{"Color": "red"},
	}))

	// stamps a notification nobody is subscribed to yet
	require.NoError(t, bus.EmitChanged(testPath, testIface, transport.Properties{"Color": "green"}))
	stale := bus.Mark()
	a.NotZero(stale)

	o, err := remote.New(bus, testPath, testIface)
	require.NoError(t, err)
	require.NoError(t, o.Open(context.Background(), nil))
	defer o.Close()

	// a signal dispatched late, after the load that already covers it
	o.Apply(transport.Notification{
		Path:      testPath,
		Interface: testIface,
		Member:    transport.PropertiesChanged,
		Changed:   transport.Properties{"Color": "green"},
		Seq:       stale,
	})

	v, _ := o.Get("Color")
	a.Equal("red", v)

	// unstamped and newer notifications still apply
	o.Apply(transport.Notification{
		Path:      testPath,
		Interface: testIface,
		Member:    transport.PropertiesChanged,
		Changed:   transport.Properties{"Color": "blue"},
	})

	v, _ = o.Get("Color")
	a.Equal("blue", v)

	require.NoError(t, bus.EmitChanged(testPath, testIface, transport.Properties{"Color": "black"}))
	a.Eventually(func() bool {
		v, _ := o.Get("Color")
		return v == "black"
	}, time.Second, 5*time.Millisecond)
}
