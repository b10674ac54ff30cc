package registry

import (
	"time"

	"github.com/allegro/bigcache"
	"github.com/pkg/errors"
)

// DefaultResolveTTL is how long a resolved uid to path mapping is trusted
const DefaultResolveTTL = 5 * time.Minute

// resolveCache remembers which object path a uid was resolved to;
// it holds paths only, never device state
type resolveCache struct {
	backend *bigcache.BigCache
}

func newResolveCache(ttl time.Duration) (*resolveCache, error) {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}

	// a machine has a handful of devices, the defaults are sized for millions
	config := bigcache.DefaultConfig(ttl)
	config.Shards = 16
	config.MaxEntriesInWindow = 1024
	config.MaxEntrySize = 256
	config.HardMaxCacheSize = 1
	config.CleanWindow = time.Minute
	config.Verbose = false

	backend, err := bigcache.NewBigCache(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize resolve cache")
	}

	return &resolveCache{backend: backend}, nil
}

func (c *resolveCache) Get(uid string) (string, bool) {
	path, err := c.backend.Get(uid)
	if err != nil {
		return "", false
	}

	return string(path), true
}

func (c *resolveCache) Put(uid, path string) error {
	return errors.Wrapf(c.backend.Set(uid, []byte(path)), "failed to cache path of %s", uid)
}

func (c *resolveCache) Delete(uid string) {
	_ = c.backend.Delete(uid)
}

// EvictPath drops every uid resolved to path and returns them
func (c *resolveCache) EvictPath(path string) []string {
	uids := make([]string, 0, 1)

	it := c.backend.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue
		}

		if string(entry.Value()) == path {
			uids = append(uids, entry.Key())
		}
	}

	for _, uid := range uids {
		c.Delete(uid)
	}

	return uids
}

// UIDOf is a reverse lookup of a cached path
func (c *resolveCache) UIDOf(path string) (string, bool) {
	it := c.backend.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue
		}

		if string(entry.Value()) == path {
			return entry.Key(), true
		}
	}

	return "", false
}
