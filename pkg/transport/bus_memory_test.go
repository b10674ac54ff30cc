package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPath  = "/org/example/Thing"
	testIface = "org.example.Thing"
)

type echoHandler struct {
	props transport.Properties
	block chan struct{}
}

func (h *echoHandler) Properties() transport.Properties {
	return h.props
}

func (h *echoHandler) Call(ctx context.Context, method string, args []interface{}) ([]interface{}, error) {
	if h.block != nil {
		<-h.block
	}

	if method == "Fail" {
		return nil, transport.NewRemoteError("org.example.Error.Failed", "failed on purpose")
	}

	return append([]interface{}{method}, args...), nil
}

func TestValidatePath(t *testing.T) {
	a := assert.New(t)

	a.NoError(transport.ValidatePath("/"))
	a.NoError(transport.ValidatePath(transport.ManagerPath))
	a.NoError(transport.ValidatePath(transport.DevicesPath + "/abc_123"))

	for _, p := range []string{"", "relative", "/a//b", "/a/", "/a-b", "/a.b"} {
		a.True(errors.Is(transport.ValidatePath(p), transport.ErrInvalidPath), p)
	}
}

func TestPathsOf(t *testing.T) {
	a := assert.New(t)

	p, ok := transport.PathOf(transport.ObjectPath("/a"))
	a.True(ok)
	a.Equal("/a", p)

	_, ok = transport.PathOf(42)
	a.False(ok)

	ps, ok := transport.PathsOf([]interface{}{"/a", transport.ObjectPath("/b")})
	a.True(ok)
	a.Equal([]string{"/a", "/b"}, ps)

	_, ok = transport.PathsOf([]interface{}{"/a", 1})
	a.False(ok)
}

func TestRemoteError(t *testing.T) {
	a := assert.New(t)

	a.Equal("org.example.Error.Failed: boom 1", transport.NewRemoteError("org.example.Error.Failed", "boom %d", 1).Error())
	a.Equal("org.example.Error.Failed", (&transport.RemoteError{Name: "org.example.Error.Failed"}).Error())
}

func TestMemoryBusCallAndGetAll(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	bus := transport.NewMemoryBus()

	_, err := bus.Call(ctx, testPath, testIface, "Ping")
	a.True(errors.Is(err, transport.ErrNoSuchObject))

	a.True(errors.Is(bus.Publish(testPath, testIface, nil), transport.ErrNilHandler))
	a.True(errors.Is(bus.Publish("bad", testIface, &echoHandler{}), transport.ErrInvalidPath))

	h := &echoHandler{props: transport.Properties{"Color": "red"}}
	require.NoError(t, bus.Publish(testPath, testIface, h))
	a.True(errors.Is(bus.Publish(testPath, testIface, h), transport.ErrAlreadyExported))

	body, err := bus.Call(ctx, testPath, testIface, "Ping", "x")
	a.NoError(err)
	a.Equal([]interface{}{"Ping", "x"}, body)

	_, err = bus.Call(ctx, testPath, testIface, "Fail")
	var rerr *transport.RemoteError
	a.True(errors.As(err, &rerr))

	props, err := bus.GetAll(ctx, testPath, testIface)
	a.NoError(err)
	a.Equal("red", props["Color"])

	// callers get a copy
	props["Color"] = "blue"
	a.Equal("red", h.props["Color"])

	a.Equal(4, bus.Calls())
}

func TestMemoryBusCallDeadline(t *testing.T) {
	a := assert.New(t)

	h := &echoHandler{block: make(chan struct{})}
	defer close(h.block)

	bus := transport.NewMemoryBus()
	require.NoError(t, bus.Publish(testPath, testIface, h))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bus.Call(ctx, testPath, testIface, "Ping")
	a.True(errors.Is(err, context.DeadlineExceeded))
}

func TestMemoryBusNotifications(t *testing.T) {
	a := assert.New(t)

	bus := transport.NewMemoryBus()
	require.NoError(t, bus.Publish(testPath, testIface, &echoHandler{}))

	sub, err := bus.Subscribe(testPath, testIface)
	require.NoError(t, err)
	a.Equal(1, bus.Subscribers(testPath, testIface))

	a.NoError(bus.EmitChanged(testPath, testIface, transport.Properties{"N": 1, "Label": nil}))
	a.NoError(bus.Emit(testPath, testIface, "Poked", "hard"))
	a.NoError(bus.Unpublish(testPath, testIface))
	a.NoError(bus.Unpublish(testPath, testIface))

	n := <-sub.C()
	a.True(n.IsPropertyChange())
	a.Equal(1, n.Changed["N"])
	a.NotContains(n.Changed, "Label")
	a.Equal([]string{"Label"}, n.Invalidated)

	n = <-sub.C()
	a.Equal("Poked", n.Member)
	a.Equal([]interface{}{"hard"}, n.Args)

	n = <-sub.C()
	a.True(n.Gone)

	a.NoError(sub.Close())
	a.NoError(sub.Close())
	a.Zero(bus.Subscribers(testPath, testIface))

	_, ok := <-sub.C()
	a.False(ok)
}

func TestMemoryBusClose(t *testing.T) {
	a := assert.New(t)

	bus := transport.NewMemoryBus()
	require.NoError(t, bus.Publish(testPath, testIface, &echoHandler{}))

	sub, err := bus.Subscribe(testPath, testIface)
	require.NoError(t, err)

	a.NoError(bus.Close())
	a.NoError(bus.Close())

	_, ok := <-sub.C()
	a.False(ok)

	_, err = bus.Call(context.Background(), testPath, testIface, "Ping")
	a.True(errors.Is(err, transport.ErrClosed))

	_, err = bus.Subscribe(testPath, testIface)
	a.True(errors.Is(err, transport.ErrClosed))

	a.True(errors.Is(bus.Publish(testPath, testIface, &echoHandler{}), transport.ErrClosed))
}
