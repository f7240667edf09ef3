package trajectory

import (
	"sync"

	"rlm/internal/observability"
)

// subscriberBacklog bounds how many events a lagging subscriber can queue
// before it starts dropping, matching spec.md §5: "slow subscribers lag
// with an overflow indicator rather than blocking producers."
const subscriberBacklog = 256

type subscriber struct {
	ch       chan Event
	overflow *bool
	mu       *sync.Mutex
}

// Bus is a multi-producer broadcast channel for trajectory events. Producers
// never block on a slow subscriber; a subscriber that falls behind has
// events dropped and Overflowed() observes it.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	seq    uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	bus      *Bus
	id       int
	ch       chan Event
	overflow *bool
	mu       *sync.Mutex
}

// Events returns the channel of delivered events. It is closed when the
// subscription is cancelled via Unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Overflowed reports whether any event was ever dropped for this subscriber
// because its backlog was full.
func (s *Subscription) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.overflow
}

func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}

// Subscribe registers a new subscriber with a bounded backlog.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	overflow := new(bool)
	var mu sync.Mutex
	sub := &subscriber{ch: make(chan Event, subscriberBacklog), overflow: overflow, mu: &mu}
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, ch: sub.ch, overflow: overflow, mu: &mu}
}

// Publish assigns Seq and delivers ev to every current subscriber,
// non-blockingly. The payload is redacted first so a REPL submit/stdout
// frame or an LLM request/response body can never carry a raw credential
// onto the bus (spec.md §6 "Trajectory event envelope" is otherwise silent
// on this, but every subscriber — including a remote streaming client — can
// observe ev.Payload, so redaction belongs here, not at each call site).
func (b *Bus) Publish(ev Event) Event {
	ev.Payload = observability.Redact(ev.Payload)

	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.mu.Lock()
			*s.overflow = true
			s.mu.Unlock()
		}
	}
	return ev
}

// Close unsubscribes and closes every current subscriber's channel. Call at
// the end of a run once no further events will be published.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
