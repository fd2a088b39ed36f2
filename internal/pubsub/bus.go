package pubsub

import (
	"sync"

	"go.uber.org/zap"
)

const defaultBuffer = 64

// Bus fans values out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the value.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	buffer int
	logger *zap.Logger
}

func NewBus[T any](buffer int, logger *zap.Logger) *Bus[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus[T]{subs: make(map[chan T]struct{}), buffer: buffer, logger: logger}
}

func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// SubscribeWith queues initial ahead of anything published afterwards.
func (b *Bus[T]) SubscribeWith(initial T) chan T {
	ch := make(chan T, b.buffer)
	ch <- initial
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish returns how many subscribers accepted v.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for ch := range b.subs {
		select {
		case ch <- v:
			n++
		default:
			b.logger.Warn("pubsub subscriber lagging, value dropped")
		}
	}
	return n
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Listen runs fn for every value on its own goroutine until the returned
// func is called. A panicking fn is logged and does not stop delivery.
func (b *Bus[T]) Listen(fn func(T)) func() {
	return b.listen(b.Subscribe(), fn)
}

// ListenWith is Listen with initial delivered first.
func (b *Bus[T]) ListenWith(initial T, fn func(T)) func() {
	return b.listen(b.SubscribeWith(initial), fn)
}

func (b *Bus[T]) listen(ch chan T, fn func(T)) func() {
	go func() {
		for v := range ch {
			b.dispatch(fn, v)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { b.Unsubscribe(ch) })
	}
}

func (b *Bus[T]) dispatch(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("pubsub handler panicked", zap.Any("panic", r))
		}
	}()
	fn(v)
}
