// Package bus implements the in-process typed pub/sub described in
// SPEC_FULL.md component 4.5: publish enqueues and returns immediately, a
// small pool of dispatch workers delivers to subscribers, and back-pressure
// engages (block briefly, then drop-and-count) rather than growing an
// unbounded queue.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jcmd13/subagent-tracking/internal/schema"
)

const (
	// WildcardTopic subscribes to every event type.
	WildcardTopic = "*"

	defaultShardQueueSize = 256
	defaultShards         = 4
	// blockBeforeDrop bounds how long Publish waits for room in a full
	// shard queue before giving up and counting a drop, per the "block
	// briefly then drop" policy in spec.md section 5.
	blockBeforeDrop = 20 * time.Millisecond
	// dropLogRate caps how often a saturated-queue warning is logged;
	// sustained overload would otherwise turn the warning itself into a
	// second source of back-pressure on the logger.
	dropLogRate = 1 * time.Second
)

// Handler processes one delivered event. A Handler that panics or returns
// an error is isolated by the bus: delivery continues to the remaining
// subscribers, and the failure is logged, never propagated to Publish.
type Handler func(schema.Event) error

// Unsubscribe detaches a previously registered handler. Safe to call
// concurrently with Publish; already-running deliveries to the handler are
// allowed to finish (eventual, not immediate, cancellation).
type Unsubscribe func()

type subscription struct {
	id      uint64
	topic   string
	handler Handler
}

// Bus is an in-process, shard-ordered event bus. Each shard preserves
// per-publisher FIFO (the shard key is the event's SessionID, a reasonable
// stand-in for "publisher" in a system where one session is one logical
// producer) while distinct publishers dispatch concurrently across shards.
type Bus struct {
	log *zap.Logger

	mu      sync.RWMutex
	subs    map[string][]*subscription
	nextID  uint64

	shards         []chan schema.Event
	shardQueueSize int
	wg             sync.WaitGroup

	dropped   atomic.Int64
	delivered atomic.Int64

	dropLogLimiter *rate.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithShardCount overrides the number of dispatch shards (default 4).
func WithShardCount(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.shards = make([]chan schema.Event, n)
		}
	}
}

// WithQueueSize overrides each shard's bounded queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		b.shardQueueSize = n
	}
}

// New creates a Bus and starts its dispatch workers, one per shard. Call
// Close to stop them.
func New(log *zap.Logger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		log:            log,
		subs:           make(map[string][]*subscription),
		closed:         make(chan struct{}),
		dropLogLimiter: rate.NewLimiter(rate.Every(dropLogRate), 1),
	}
	b.shardQueueSize = defaultShardQueueSize
	shardCount := defaultShards
	for _, opt := range opts {
		opt(b)
	}
	if len(b.shards) == 0 {
		b.shards = make([]chan schema.Event, shardCount)
	}
	for i := range b.shards {
		b.shards[i] = make(chan schema.Event, b.shardQueueSize)
	}

	for i := range b.shards {
		b.wg.Add(1)
		go b.dispatchLoop(b.shards[i])
	}
	return b
}

// Subscribe registers handler for topic ("*" for all event types) and
// returns a function that detaches it.
func (b *Bus) Subscribe(topic string, handler Handler) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscription{id: id, topic: topic, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues event for asynchronous delivery and returns immediately.
// If the event's shard queue is saturated, Publish blocks for up to
// blockBeforeDrop before dropping the event and counting it.
func (b *Bus) Publish(event schema.Event) {
	shard := b.shards[b.shardFor(event.SessionID)]
	select {
	case shard <- event:
		return
	default:
	}

	timer := time.NewTimer(blockBeforeDrop)
	defer timer.Stop()
	select {
	case shard <- event:
	case <-timer.C:
		b.dropped.Add(1)
		if b.dropLogLimiter.Allow() {
			b.log.Warn("bus: dropping event, shard queue saturated",
				zap.String("event_id", event.EventID),
				zap.String("event_type", string(event.EventType)),
				zap.Int64("dropped_total", b.dropped.Load()),
			)
		}
	}
}

// Dropped returns the cumulative count of publishes dropped due to
// back-pressure.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Delivered returns the cumulative count of successful handler deliveries.
func (b *Bus) Delivered() int64 { return b.delivered.Load() }

// Close stops accepting new dispatch work and waits for in-flight handlers
// to finish. Idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		for _, s := range b.shards {
			close(s)
		}
		b.wg.Wait()
	})
}

func (b *Bus) shardFor(key string) int {
	if len(b.shards) == 1 {
		return 0
	}
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % uint32(len(b.shards)))
}

func (b *Bus) dispatchLoop(queue chan schema.Event) {
	defer b.wg.Done()
	for event := range queue {
		b.deliver(event)
	}
}

func (b *Bus) deliver(event schema.Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs[WildcardTopic])+len(b.subs[string(event.EventType)]))
	subs = append(subs, b.subs[WildcardTopic]...)
	subs = append(subs, b.subs[string(event.EventType)]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.callSafely(sub, event)
	}
}

func (b *Bus) callSafely(sub *subscription, event schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus: subscriber panicked",
				zap.Any("recover", r),
				zap.String("event_id", event.EventID),
			)
		}
	}()
	if err := sub.handler(event); err != nil {
		b.log.Error("bus: subscriber returned error",
			zap.Error(err),
			zap.String("event_id", event.EventID),
		)
		return
	}
	b.delivered.Add(1)
}
