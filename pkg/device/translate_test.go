package device_test

import (
	"context"
	"testing"

	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTranslateRemote(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	aerr := device.Translate(ctx, &transport.RemoteError{
		Name:    "org.freedesktop.bolt.Error.Policy.Denied",
		Message: "GDBus.Error:org.freedesktop.bolt.Error.Policy.Denied: not allowed",
	})
	a.NotNil(aerr)
	a.Equal(device.AuthRemote, aerr.Kind)
	a.Equal(device.KindPolicyDenied, aerr.Remote)
	a.Equal("not allowed", aerr.Message)
	a.False(aerr.Retryable())

	aerr = device.Translate(ctx, transport.NewRemoteError("org.freedesktop.bolt.Error.UDev", "udev failed"))
	a.Equal(device.AuthRemote, aerr.Kind)
	a.Equal(device.KindUDev, aerr.Remote)
	a.Equal("udev failed", aerr.Message)

	aerr = device.Translate(ctx, transport.NewRemoteError("org.freedesktop.bolt.Error.Failed",
		"org.freedesktop.bolt.Error.Failed: key missing"))
	a.Equal(device.KindFailed, aerr.Remote)
	a.Equal("key missing", aerr.Message)

	// foreign names keep their own domain
	aerr = device.Translate(ctx, transport.NewRemoteError("com.example.Storage.Full", "disk full"))
	a.Equal(device.AuthRemote, aerr.Kind)
	a.Equal(device.RemoteKind{Domain: "com.example.storage", Code: "full"}, aerr.Remote)
}

func TestTranslateBusErrors(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	aerr := device.Translate(ctx, transport.NewRemoteError("org.freedesktop.DBus.Error.NoReply", "no reply"))
	a.Equal(device.AuthTimeout, aerr.Kind)
	a.True(aerr.Retryable())

	aerr = device.Translate(ctx, transport.NewRemoteError("org.freedesktop.DBus.Error.AccessDenied", "rejected"))
	a.Equal(device.AuthRemote, aerr.Kind)
	a.Equal(device.KindAccessDenied, aerr.Remote)
	a.False(aerr.Retryable())

	aerr = device.Translate(ctx, transport.NewRemoteError("org.freedesktop.DBus.Error.ServiceUnknown", "gone"))
	a.Equal(device.AuthTransportFailure, aerr.Kind)
	a.True(aerr.Retryable())
}

func TestTranslateLocalErrors(t *testing.T) {
	a := assert.New(t)

	a.Nil(device.Translate(context.Background(), nil))

	aerr := device.Translate(context.Background(), context.Canceled)
	a.Equal(device.AuthCancelled, aerr.Kind)
	a.False(aerr.Retryable())

	aerr = device.Translate(context.Background(), errors.Wrap(context.DeadlineExceeded, "call"))
	a.Equal(device.AuthTimeout, aerr.Kind)

	aerr = device.Translate(context.Background(), transport.ErrClosed)
	a.Equal(device.AuthTransportFailure, aerr.Kind)
	a.True(errors.Is(aerr, transport.ErrClosed))

	// a generic transport failure on a cancelled context is a cancellation
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	aerr = device.Translate(ctx, transport.ErrMalformedReply)
	a.Equal(device.AuthCancelled, aerr.Kind)

	// already translated errors pass through
	orig := &device.AuthorizeError{Kind: device.AuthFlagEncoding}
	a.Equal(orig, device.Translate(context.Background(), orig))

	a.True(errors.Is(
		&device.AuthorizeError{Kind: device.AuthRemote, Remote: device.KindPolicyDenied, Message: "x"},
		&device.AuthorizeError{Kind: device.AuthRemote, Remote: device.KindPolicyDenied},
	))
}

func TestStripRemoteMessage(t *testing.T) {
	a := assert.New(t)

	name := "org.freedesktop.bolt.Error.Failed"

	a.Equal("boom", device.StripRemoteMessage(name, "GDBus.Error:"+name+": boom"))
	a.Equal("boom", device.StripRemoteMessage(name, name+": boom"))
	a.Equal("boom", device.StripRemoteMessage(name, "GDBus.Error:"+name+": "+name+": boom"))
	a.Equal("GDBus.Error:"+name, device.StripRemoteMessage(name, "GDBus.Error:"+name))
	a.Equal("GDBus.Error:"+name+" boom", device.StripRemoteMessage(name, "GDBus.Error:"+name+" boom"))
	a.Equal("plain message", device.StripRemoteMessage(name, "plain message"))
}

func TestRemoteKindErrorName(t *testing.T) {
	a := assert.New(t)

	a.Equal("org.freedesktop.bolt.Error.UDev", device.KindUDev.ErrorName())
	a.Equal("org.freedesktop.bolt.Error.Failed", device.KindFailed.ErrorName())
	a.Equal("org.freedesktop.bolt.Error.Policy.Denied", device.KindPolicyDenied.ErrorName())
	a.Equal("org.freedesktop.DBus.Error.AccessDenied", device.KindAccessDenied.ErrorName())

	for _, k := range []device.RemoteKind{device.KindUDev, device.KindFailed, device.KindPolicyDenied, device.KindAccessDenied} {
		a.Equal(k, device.RemoteKindOf(k.ErrorName()))
	}
}
