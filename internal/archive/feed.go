package archive

import (
	"log/slog"
	"sync"

	"github.com/Aman-CERP/mapview/internal/pathmatch"
)

const subscriptionBuffer = 64

// Feed fans change events out to pattern-scoped subscriptions.
// Archive implementations embed one to provide Subscribe.
type Feed struct {
	mu     sync.Mutex
	subs   map[*feedSub]struct{}
	closed bool
}

type feedSub struct {
	feed    *Feed
	matcher *pathmatch.Matcher
	ch      chan Event
	once    sync.Once
}

// Subscribe registers a subscription for paths matching patterns.
func (f *Feed) Subscribe(patterns []string) (Subscription, error) {
	m, err := pathmatch.Compile(patterns...)
	if err != nil {
		return nil, err
	}

	s := &feedSub{feed: f, matcher: m, ch: make(chan Event, subscriptionBuffer)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.once.Do(func() { close(s.ch) })
		return s, nil
	}
	if f.subs == nil {
		f.subs = make(map[*feedSub]struct{})
	}
	f.subs[s] = struct{}{}
	return s, nil
}

// Publish delivers ev to every matching subscription without blocking.
// Events for a full subscription are dropped.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for s := range f.subs {
		if !s.matcher.Match(ev.Path) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			slog.Warn("archive event dropped, subscriber is behind",
				slog.String("path", ev.Path),
				slog.String("kind", ev.Kind.String()))
		}
	}
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.closed = true
	f.mu.Unlock()

	for s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (s *feedSub) Events() <-chan Event { return s.ch }

func (s *feedSub) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s)
	s.feed.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
	return nil
}
