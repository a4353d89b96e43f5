// Package events carries indexing notifications from the indexer to
// whoever is interested: synchronous handlers registered with On, and
// buffered channel subscriptions that drop events when their reader falls
// behind.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Kind names a notification.
type Kind string

const (
	ArchiveIndexing      Kind = "archive-indexing"
	ArchiveIndexProgress Kind = "archive-index-progress"
	ArchiveIndexed       Kind = "archive-indexed"
	IndexesUpdated       Kind = "indexes-updated"
	ArchiveMissing       Kind = "archive-missing"
	ArchiveFound         Kind = "archive-found"
	ArchiveError         Kind = "archive-error"
	ViewReset            Kind = "view-reset"
)

// Event is one notification. Fields that do not apply to a kind are zero.
// Start and End bound the versions a view is about to catch up on.
type Event struct {
	Kind    Kind      `json:"kind"`
	Archive string    `json:"archive,omitempty"`
	View    string    `json:"view,omitempty"`
	Version int64     `json:"version,omitempty"`
	Start   int64     `json:"start,omitempty"`
	End     int64     `json:"end,omitempty"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	Err     error     `json:"-"`
	Time    time.Time `json:"time"`
}

func (e Event) String() string {
	switch e.Kind {
	case ArchiveIndexing:
		return fmt.Sprintf("%s %s %s %d..%d", e.Kind, e.Archive, e.View, e.Start, e.End)
	case ArchiveIndexProgress:
		return fmt.Sprintf("%s %s %s %d/%d", e.Kind, e.Archive, e.View, e.Current, e.Total)
	case ArchiveIndexed, IndexesUpdated:
		return fmt.Sprintf("%s %s %s v%d", e.Kind, e.Archive, e.View, e.Version)
	case ArchiveError:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Archive, e.Err)
	case ViewReset:
		return fmt.Sprintf("%s %s", e.Kind, e.View)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Archive)
	}
}

// Handler receives events synchronously on the publishing goroutine.
type Handler func(Event)

type handlerEntry struct {
	kind Kind
	fn   Handler
}

// Bus fans events out. The zero value is not usable; call NewBus.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[uint64]handlerEntry
	subs     map[*Subscription]struct{}
	nextID   uint64
	closed   bool

	dropped   atomic.Uint64
	dropWarns *rate.Limiter
}

// NewBus creates a bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:    logger,
		handlers:  make(map[uint64]handlerEntry),
		subs:      make(map[*Subscription]struct{}),
		dropWarns: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// On registers fn for kind, or for every kind when kind is empty.
// The returned function unregisters it.
func (b *Bus) On(kind Kind, fn Handler) (off func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handlerEntry{kind: kind, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Subscription is a buffered event channel.
type Subscription struct {
	bus   *Bus
	kinds map[Kind]bool
	ch    chan Event
	once  sync.Once
}

// Subscribe returns a subscription with room for buf events, restricted to
// kinds when any are given.
func (b *Bus) Subscribe(buf int, kinds ...Kind) *Subscription {
	if buf <= 0 {
		buf = 64
	}
	s := &Subscription{bus: b, ch: make(chan Event, buf)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// C returns the event channel. It is closed by Close or when the bus closes.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unsubscribes.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

func (s *Subscription) wants(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

// Publish delivers ev to subscriptions, then to handlers. A panicking
// handler is logged and skipped.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var fns []Handler
	for _, h := range b.handlers {
		if h.kind == "" || h.kind == ev.Kind {
			fns = append(fns, h.fn)
		}
	}
	for s := range b.subs {
		if !s.wants(ev.Kind) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			n := b.dropped.Add(1)
			if b.dropWarns.Allow() {
				b.logger.Warn("event subscriber is behind, dropping events",
					slog.String("kind", string(ev.Kind)),
					slog.Uint64("total_dropped", n))
			}
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.call(fn, ev)
	}
}

func (b *Bus) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("kind", string(ev.Kind)),
				slog.Any("panic", r))
		}
	}()
	fn(ev)
}

// Dropped returns how many events subscriptions have missed.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription and ignores later publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.handlers = make(map[uint64]handlerEntry)
	b.mu.Unlock()

	for s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}
