package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// SubscriptionBuffer is the per-subscriber queue length
const SubscriptionBuffer = 64

type objectKey struct {
	path  string
	iface string
}

// MemoryBus is an in-process bus implementing both Transport and Publisher.
// Handlers are invoked directly, notifications are queued per subscriber.
type MemoryBus struct {
	calls   int64
	seq     uint64
	objects map[objectKey]Handler
	subs    map[objectKey][]*memorySubscription
	closed  bool
	emitMu  sync.Mutex
	sync.RWMutex
}

// NewMemoryBus returns an initialized in-memory bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		objects: make(map[objectKey]Handler),
		subs:    make(map[objectKey][]*memorySubscription),
	}
}

// Calls returns the number of remote operations attempted so far
func (b *MemoryBus) Calls() int {
	return int(atomic.LoadInt64(&b.calls))
}

// Mark returns the stamp of the latest notification delivered so far
func (b *MemoryBus) Mark() uint64 {
	return atomic.LoadUint64(&b.seq)
}

// Subscribers returns the number of live subscriptions for an object
func (b *MemoryBus) Subscribers(path, iface string) int {
	b.RLock()
	defer b.RUnlock()

	return len(b.subs[objectKey{path, iface}])
}

func (b *MemoryBus) handler(path, iface string) (Handler, error) {
	b.RLock()
	defer b.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	h, ok := b.objects[objectKey{path, iface}]
	if !ok {
		return nil, ErrNoSuchObject
	}

	return h, nil
}

func (b *MemoryBus) Call(ctx context.Context, path, iface, method string, args ...interface{}) ([]interface{}, error) {
	atomic.AddInt64(&b.calls, 1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := b.handler(path, iface)
	if err != nil {
		return nil, err
	}

	type reply struct {
		body []interface{}
		err  error
	}

	// the handler keeps running if the caller gives up,
	// same as a remote peer would
	done := make(chan reply, 1)
	go func() {
		body, err := h.Call(ctx, method, args)
		done <- reply{body, err}
	}()

	select {
	case r := <-done:
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *MemoryBus) GetAll(ctx context.Context, path, iface string) (Properties, error) {
	atomic.AddInt64(&b.calls, 1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := b.handler(path, iface)
	if err != nil {
		return nil, err
	}

	return h.Properties().Clone(), nil
}

func (b *MemoryBus) Subscribe(path, iface string) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	s := &memorySubscription{
		bus:  b,
		key:  objectKey{path, iface},
		ch:   make(chan Notification, SubscriptionBuffer),
		done: make(chan struct{}),
	}

	b.Lock()
	defer b.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	b.subs[s.key] = append(b.subs[s.key], s)

	return s, nil
}

func (b *MemoryBus) Publish(path, iface string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}

	if err := ValidatePath(path); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	if b.closed {
		return ErrClosed
	}

	key := objectKey{path, iface}
	if _, ok := b.objects[key]; ok {
		return ErrAlreadyExported
	}

	b.objects[key] = h

	return nil
}

// Unpublish removes the object and tells its subscribers it is gone;
// unpublishing an unknown object is a no-op
func (b *MemoryBus) Unpublish(path, iface string) error {
	key := objectKey{path, iface}

	b.Lock()
	_, ok := b.objects[key]
	delete(b.objects, key)
	b.Unlock()

	if !ok {
		return nil
	}

	b.deliver(key, Notification{
		Path:      path,
		Interface: iface,
		Gone:      true,
	})

	return nil
}

func (b *MemoryBus) EmitChanged(path, iface string, changed Properties) error {
	set, invalidated := changed.Split()

	b.deliver(objectKey{path, iface}, Notification{
		Path:        path,
		Interface:   iface,
		Member:      PropertiesChanged,
		Changed:     set,
		Invalidated: invalidated,
	})

	return nil
}

func (b *MemoryBus) Emit(path, iface, member string, args ...interface{}) error {
	b.deliver(objectKey{path, iface}, Notification{
		Path:      path,
		Interface: iface,
		Member:    member,
		Args:      args,
	})

	return nil
}

// Close drops every object and terminates all subscriptions
func (b *MemoryBus) Close() error {
	b.Lock()
	if b.closed {
		b.Unlock()
		return nil
	}

	b.closed = true
	subs := b.subs
	b.subs = make(map[objectKey][]*memorySubscription)
	b.objects = make(map[objectKey]Handler)
	b.Unlock()

	for _, list := range subs {
		for _, s := range list {
			s.terminate()
		}
	}

	return nil
}

// deliver stamps and queues one notification at a time, so stamps
// follow the order subscribers receive them in
func (b *MemoryBus) deliver(key objectKey, n Notification) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	n.Seq = atomic.AddUint64(&b.seq, 1)

	b.RLock()
	defer b.RUnlock()

	for _, s := range b.subs[key] {
		select {
		case s.ch <- n:
		case <-s.done:
		}
	}
}

func (b *MemoryBus) remove(s *memorySubscription) {
	b.Lock()
	list := b.subs[s.key]
	for i := range list {
		if list[i] == s {
			b.subs[s.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.Unlock()
}

type memorySubscription struct {
	bus  *MemoryBus
	key  objectKey
	ch   chan Notification
	done chan struct{}
	once sync.Once
}

func (s *memorySubscription) C() <-chan Notification {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)

		// senders hold the bus read lock, so after removal nobody can send anymore
		s.bus.Lock()
		close(s.ch)
		s.bus.Unlock()
	})

	return nil
}

func (s *memorySubscription) terminate() {
	s.once.Do(func() {
		close(s.done)

		s.bus.Lock()
		close(s.ch)
		s.bus.Unlock()
	})
}
