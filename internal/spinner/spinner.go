// Package spinner implements the cooperative dispatcher described in §4.4
// of the core spec: a single logical timer that time-slices queued
// messages out to per-client callbacks, enforcing a bounded, lossy queue
// and an optional minimum dispatch interval (throttle) per client.
//
// The design is grounded on two teacher patterns: the bounded,
// drop-on-overflow task queue of a worker pool (never let a producer
// block or spawn unbounded goroutines), and the broker's "one id, one
// owner, looked-up by map" style of decoupling a dispatcher from the
// objects it serves (publishers/subscribers hold only a stable string id,
// never a direct reference back into the spinner).
package spinner

import (
	"sync"
	"time"
)

// DefaultRateHz is the spinner's default tick rate (§4.4).
const DefaultRateHz = 200

// Client is what a producer registers to receive batched deliveries. It
// is invoked with the full queued batch in push order; Deliver must not
// block the spinner's tick for long since the spinner is single-threaded
// with respect to dispatch.
type Client interface {
	Deliver(batch []interface{})
}

type clientQueue struct {
	queueSize       int
	throttle        time.Duration
	items           []interface{}
	lastDispatch    time.Time
	hasLastDispatch bool
	client          Client
}

// Spinner is the single-threaded cooperative scheduler. All exported
// methods are safe for concurrent use; internally a single mutex guards
// client state the way the broker guards its topic/pipe maps.
type Spinner struct {
	rateHz time.Duration

	mu          sync.Mutex
	clients     map[string]*clientQueue
	timer       *time.Timer
	armed       bool
	dispatching bool // true while tick's delivery loop runs, unlocked; blocks re-arming
	stopped     bool

	// tickNow lets tests drive ticks deterministically instead of
	// waiting on a wall-clock timer.
	tickNow func() time.Time
}

// New creates a Spinner ticking at rateHz (0 selects DefaultRateHz).
func New(rateHz int) *Spinner {
	if rateHz <= 0 {
		rateHz = DefaultRateHz
	}
	return &Spinner{
		rateHz:  time.Second / time.Duration(rateHz),
		clients: make(map[string]*clientQueue),
		tickNow: time.Now,
	}
}

// Register adds or replaces a client's queue configuration. queueSize is
// the maximum number of pending messages retained (oldest dropped past
// that); a queueSize of 0 or less leaves the queue unbounded. throttle is
// the minimum interval enforced between dispatches to this client (zero
// means "as soon as the next tick arrives").
func (s *Spinner) Register(id string, queueSize int, throttle time.Duration, client Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[id] = &clientQueue{
		queueSize: queueSize,
		throttle:  throttle,
		client:    client,
	}
}

// Deregister removes a client and discards any queued items for it
// (§4.4 "Disconnect"). If no client remains with pending work the timer is
// left disarmed.
func (s *Spinner) Deregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
	s.disarmIfIdleLocked()
}

// Push enqueues msg for delivery to the client registered under id. If the
// queue already holds queueSize items, the OLDEST is dropped to make room
// (never the newest), per §4.4 and the overflow invariant in §8. Push is a
// no-op if id is not registered (e.g. raced with Deregister).
func (s *Spinner) Push(id string, msg interface{}) {
	s.mu.Lock()
	cq, ok := s.clients[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	cq.items = append(cq.items, msg)
	if cq.queueSize > 0 && len(cq.items) > cq.queueSize {
		drop := len(cq.items) - cq.queueSize
		cq.items = cq.items[drop:]
	}
	s.armLocked()
	s.mu.Unlock()
}

// armLocked starts the tick timer if it isn't already running. It is a
// no-op while a tick's delivery loop is in flight (s.dispatching): the next
// timer is armed once that delivery loop returns, not before, so two
// deliveries for the same client can never run concurrently. Must be
// called with s.mu held.
func (s *Spinner) armLocked() {
	if s.armed || s.stopped || s.dispatching {
		return
	}
	s.armed = true
	s.timer = time.AfterFunc(s.rateHz, s.tick)
}

// disarmIfIdleLocked clears the armed timer if no client has pending
// work. Must be called with s.mu held.
func (s *Spinner) disarmIfIdleLocked() {
	for _, cq := range s.clients {
		if len(cq.items) > 0 {
			return
		}
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armed = false
}

// tick is the spinner's timer callback: deliver to every eligible client,
// then re-arm if any work remains. The next timer is armed only after the
// delivery loop returns (see armLocked), so a slow Client.Deliver can never
// overlap with the next tick's delivery of the same or another client.
func (s *Spinner) tick() {
	now := s.tickNow()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.armed = false
	s.dispatching = true

	type delivery struct {
		client Client
		batch  []interface{}
	}
	var deliveries []delivery

	for _, cq := range s.clients {
		if len(cq.items) == 0 {
			continue
		}
		eligible := !cq.hasLastDispatch || now.Sub(cq.lastDispatch) >= cq.throttle
		if !eligible {
			continue
		}
		batch := cq.items
		cq.items = nil
		cq.lastDispatch = now
		cq.hasLastDispatch = true
		deliveries = append(deliveries, delivery{client: cq.client, batch: batch})
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		d.client.Deliver(d.batch)
	}

	s.mu.Lock()
	s.dispatching = false
	if !s.stopped && s.hasPendingLocked() {
		s.armLocked()
	}
	s.mu.Unlock()
}

func (s *Spinner) hasPendingLocked() bool {
	for _, cq := range s.clients {
		if len(cq.items) > 0 {
			return true
		}
	}
	return false
}

// Tick forces one dispatch pass synchronously, for deterministic tests. It
// bypasses the timer entirely.
func (s *Spinner) Tick(now time.Time) {
	prev := s.tickNow
	s.tickNow = func() time.Time { return now }
	s.tick()
	s.tickNow = prev
}

// Stop disarms the spinner and discards all queued state. Safe to call
// multiple times.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.clients = make(map[string]*clientQueue)
	s.armed = false
}
