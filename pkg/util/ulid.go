package util

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

var (
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	ulidLock    sync.Mutex
)

// NewULID returns a new ulid.ULID, monotonic within this process
func NewULID() ulid.ULID {
	ulidLock.Lock()
	defer ulidLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
}
