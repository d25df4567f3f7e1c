package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/ibtop/internal/ib"
)

// Skip reasons reported in Cycle.Skipped.
const (
	ReasonCounterUnavailable = "counter_unavailable"
	ReasonMalformedCounter   = "malformed_counter"
	ReasonCounterRegression  = "counter_regression"
	ReasonReadFailed         = "read_failed"
)

// Manager samples every port once per interval, caches the latest results
// and fans out completed cycles to subscribers.
type Manager struct {
	interval time.Duration
	reader   *Reader
	ports    []ib.PortRef
	logger   *slog.Logger

	// owned by the sampling loop
	states map[ib.PortRef]*PortState
	hooks  []func(Cycle)

	mu          sync.RWMutex
	latest      map[ib.PortRef]Sample
	last        Cycle
	subscribers map[*subscriber]struct{}

	cycles    atomic.Uint64
	skips     atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

// NewManager builds a Manager sampling ports in the given order.
func NewManager(interval time.Duration, reader *Reader, ports []ib.PortRef, logger *slog.Logger) (*Manager, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if reader == nil {
		return nil, errors.New("reader is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		interval:    interval,
		reader:      reader,
		ports:       append([]ib.PortRef(nil), ports...),
		logger:      logger.With("component", "sampler_manager"),
		states:      make(map[ib.PortRef]*PortState, len(ports)),
		latest:      make(map[ib.PortRef]Sample, len(ports)),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// OnCycle registers a hook invoked synchronously after each cycle.
// Hooks must be registered before Run.
func (m *Manager) OnCycle(fn func(Cycle)) {
	if fn != nil {
		m.hooks = append(m.hooks, fn)
	}
}

// Run samples all ports immediately and then on every tick until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sampler started", "ports", len(m.ports), "interval", m.interval)

	m.runCycle()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sampler stopping", "reason", ctx.Err())
			return m.Close()
		case <-ticker.C:
			m.runCycle()
		}
	}
}

func (m *Manager) runCycle() Cycle {
	cycle := Cycle{
		Seq:       m.cycles.Load() + 1,
		Timestamp: m.reader.now().UTC(),
		Samples:   make([]Sample, 0, len(m.ports)),
	}

	for _, ref := range m.ports {
		state, ok := m.states[ref]
		if !ok {
			state = &PortState{}
			m.states[ref] = state
		}

		sample, ok, err := m.reader.Sample(ref, state)
		if err != nil {
			m.skips.Add(1)
			m.logger.Warn("sample skipped", "interface", ref.Interface, "port", ref.Port, "err", err)
			cycle.Skipped = append(cycle.Skipped, Skip{
				Interface: ref.Interface,
				Port:      ref.Port,
				Reason:    skipReason(err),
			})
			continue
		}
		if !ok {
			continue
		}
		cycle.Samples = append(cycle.Samples, sample)
	}

	m.publish(cycle)

	for _, hook := range m.hooks {
		hook(cycle)
	}
	return cycle
}

func (m *Manager) publish(cycle Cycle) {
	m.mu.Lock()
	m.cycles.Store(cycle.Seq)
	m.last = cycle
	for _, sample := range cycle.Samples {
		m.latest[sample.Ref()] = sample
	}

	targetSubs := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		targetSubs = append(targetSubs, sub)
	}
	m.mu.Unlock()

	for _, sub := range targetSubs {
		sub.send(cycle)
	}
}

// Latest returns the most recent sample for the given port.
func (m *Manager) Latest(ref ib.PortRef) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sample, ok := m.latest[ref]
	return sample, ok
}

// LatestFor returns the most recent samples of an interface in port order.
func (m *Manager) LatestFor(iface string) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	samples := make([]Sample, 0)
	for _, ref := range m.ports {
		if ref.Interface != iface {
			continue
		}
		if sample, ok := m.latest[ref]; ok {
			samples = append(samples, sample)
		}
	}
	return samples
}

// LastCycle returns the most recently completed cycle.
func (m *Manager) LastCycle() (Cycle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.last.Seq > 0
}

// Subscribe registers a listener for completed cycles. The last cycle, if any,
// is delivered immediately.
func (m *Manager) Subscribe() (<-chan Cycle, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := newSubscriber()
	m.subscribers[sub] = struct{}{}

	if m.last.Seq > 0 {
		sub.send(m.last)
	}

	unsubscribe := func() {
		m.removeSubscriber(sub)
	}
	return sub.channel(), unsubscribe
}

// Ports returns the sampled ports in sampling order.
func (m *Manager) Ports() []ib.PortRef {
	return append([]ib.PortRef(nil), m.ports...)
}

// HasInterface reports whether any sampled port belongs to the interface.
func (m *Manager) HasInterface(name string) bool {
	for _, ref := range m.ports {
		if ref.Interface == name {
			return true
		}
	}
	return false
}

// Interval returns the pause between cycles.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Ready reports whether a cycle able to produce deltas has completed.
func (m *Manager) Ready() bool {
	if len(m.ports) == 0 {
		return true
	}
	return m.cycles.Load() >= 2
}

// Cycles returns the number of completed cycles.
func (m *Manager) Cycles() uint64 {
	return m.cycles.Load()
}

// Skips returns the number of port readings skipped because of errors.
func (m *Manager) Skips() uint64 {
	return m.skips.Load()
}

func (m *Manager) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, sub)
	sub.close()
}

// Close releases the reader. Safe for repeated use.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		if err := m.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
		m.mu.Lock()
		for sub := range m.subscribers {
			sub.close()
			delete(m.subscribers, sub)
		}
		m.mu.Unlock()
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrCounterUnavailable):
		return ReasonCounterUnavailable
	case errors.Is(err, ErrMalformedCounter):
		return ReasonMalformedCounter
	case errors.Is(err, ErrCounterRegression):
		return ReasonCounterRegression
	default:
		return ReasonReadFailed
	}
}

type subscriber struct {
	ch     chan Cycle
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Cycle, 1),
	}
}

func (s *subscriber) channel() <-chan Cycle {
	return s.ch
}

func (s *subscriber) send(cycle Cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- cycle:
		return
	default:
		// Drop oldest to make room for the new cycle.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- cycle:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
