// Package connectivity watches the network-reachability signal and turns it
// into stable online/offline transitions. The raw signal comes from a
// pluggable probe, so the same debouncing logic runs against a real endpoint
// in production and a stubbed function in tests.
//
// Debouncing is asymmetric on purpose: a transition to online is only
// emitted after the probe has stayed online for the full stability window
// (network flapping must not drive the sync engine), while a transition to
// offline is emitted immediately (pausing sync is always safe, attempting
// doomed calls is not).
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Default tuning. Overridable via the Options struct.
const (
	DefaultProbeInterval   = 1 * time.Second
	DefaultStabilityWindow = 2 * time.Second
	DefaultProbeTimeout    = 3 * time.Second
)

// Event is one stable connectivity transition.
type Event struct {
	Online bool
	At     time.Time
}

// ProbeFunc answers whether the network currently looks reachable. It must
// honor ctx and return promptly; the monitor calls it on every tick.
type ProbeFunc func(ctx context.Context) bool

// HTTPProbe returns a ProbeFunc that issues a HEAD request against url
// (typically the remote API health endpoint) with the given timeout. Any
// response at all counts as online; only transport errors count as offline.
func HTTPProbe(url string, timeout time.Duration) ProbeFunc {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Options tunes a Monitor. Zero values select the defaults above.
type Options struct {
	// Interval between probe calls.
	Interval time.Duration
	// StabilityWindow is how long the raw signal must stay online before an
	// online transition is trusted and emitted.
	StabilityWindow time.Duration
	// AssumeOnline sets the initial stable state before the first probe.
	AssumeOnline bool
}

// Subscription is a handle to a stream of connectivity events. Cancel it when
// the consumer goes away; the channel is closed and no events leak.
type Subscription struct {
	// C delivers stable transitions. The channel is buffered; a slow consumer
	// drops intermediate events rather than blocking the monitor.
	C <-chan Event

	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Monitor polls a probe and fans stable transitions out to subscribers.
// It never touches the local store; its only side effect is event emission.
type Monitor struct {
	probe   ProbeFunc
	opts    Options
	mu      sync.Mutex
	online  bool // last emitted stable state
	rawUp   time.Time
	subs    map[int]chan Event
	nextSub int
	stop    chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

// NewMonitor builds a Monitor around probe. Call Start to begin polling.
func NewMonitor(probe ProbeFunc, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeInterval
	}
	if opts.StabilityWindow <= 0 {
		opts.StabilityWindow = DefaultStabilityWindow
	}
	return &Monitor{
		probe:  probe,
		opts:   opts,
		online: opts.AssumeOnline,
		subs:   make(map[int]chan Event),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Online returns the current stable connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a new event consumer. The returned subscription must be
// cancelled when no longer needed. Subscribing to a closed monitor yields an
// already-closed channel.
func (m *Monitor) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		ch := make(chan Event)
		close(ch)
		return &Subscription{C: ch, cancel: func() {}}
	}
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 8)
	m.subs[id] = ch
	return &Subscription{
		C: ch,
		cancel: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		},
	}
}

// Start begins polling until ctx is cancelled or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.run(ctx)
}

// Close stops polling, waits for the poll loop to exit, and closes every
// remaining subscription channel so consumers blocked on them unwind.
func (m *Monitor) Close() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	if started {
		<-m.done
	}
	m.mu.Lock()
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.observe(m.probe(ctx), time.Now())
		}
	}
}

// observe feeds one raw probe result through the debouncer. Exported-adjacent
// seam: tests drive it directly with synthetic timestamps.
func (m *Monitor) observe(rawOnline bool, now time.Time) {
	m.mu.Lock()

	var emit *Event
	if !rawOnline {
		m.rawUp = time.Time{}
		if m.online {
			m.online = false
			emit = &Event{Online: false, At: now}
		}
	} else {
		if m.rawUp.IsZero() {
			m.rawUp = now
		}
		if !m.online && now.Sub(m.rawUp) >= m.opts.StabilityWindow {
			m.online = true
			emit = &Event{Online: true, At: now}
		}
	}

	// Deliver while still holding the lock: Cancel closes channels under the
	// same lock, so sending here can never hit a closed channel. The sends
	// cannot block, a full buffer just drops the event.
	if emit != nil {
		for _, ch := range m.subs {
			select {
			case ch <- *emit:
			default: // slow consumer: drop rather than block the poll loop
			}
		}
	}
	m.mu.Unlock()
}
