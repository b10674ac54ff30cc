package core

import "github.com/pkg/errors"

// errors
var (
	ErrNilCore        = errors.New("core is nil")
	ErrNilConfig      = errors.New("config is nil")
	ErrNilLogger      = errors.New("logger is nil")
	ErrNilTransport   = errors.New("transport is nil")
	ErrNotInitialized = errors.New("core is not initialized")
	ErrNoStore        = errors.New("identity store is not configured")
)
