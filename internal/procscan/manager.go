package procscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/ibtop/internal/config"
)

// Manager orchestrates RDMA process scans and fan-out to subscribers.
type Manager struct {
	cfg    config.ProcConfig
	logger *slog.Logger

	interfaces []string
	collector  *collector

	mu          sync.RWMutex
	latest      map[string]Snapshot
	subscribers map[string]map[*procSubscriber]struct{}
	lastScan    time.Time
	closeOnce   sync.Once
	closeErr    error
}

// NewManager constructs a process scanner for the given interfaces. devices
// maps uverbs device names to interfaces, see VerbsDevices.
func NewManager(cfg config.ProcConfig, procRoot string, interfaces []string, devices map[string]string, logger *slog.Logger) (*Manager, error) {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("scan interval must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	manager := &Manager{
		cfg:         cfg,
		logger:      logger.With("component", "procscan"),
		interfaces:  slices.Clone(interfaces),
		latest:      make(map[string]Snapshot),
		subscribers: make(map[string]map[*procSubscriber]struct{}),
	}
	lookup := newVerbsLookup(devices, interfaces)
	coll, err := newCollector(procRoot, cfg.MaxPIDs, cfg.MaxFDsPerPID, lookup, logger.With("component", "procscan_collector"))
	if err != nil {
		return nil, fmt.Errorf("init collector: %w", err)
	}
	manager.collector = coll
	return manager, nil
}

// Run starts the periodic /proc scanner until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if !m.cfg.Enable || len(m.interfaces) == 0 {
		<-ctx.Done()
		return m.Close()
	}

	m.logger.Info("process scanner started", "interval", m.cfg.ScanInterval)
	m.performScan(time.Now())

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("process scanner stopping", "reason", ctx.Err())
			return m.Close()
		case now := <-ticker.C:
			m.performScan(now)
		}
	}
}

// Enabled reports whether scans are performed at all.
func (m *Manager) Enabled() bool {
	return m.cfg.Enable
}

// Latest returns the most recent snapshot for the supplied interface.
func (m *Manager) Latest(iface string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.latest[iface]
	return snapshot, ok
}

// Subscribe registers for process snapshot updates for the supplied interface.
func (m *Manager) Subscribe(iface string) (<-chan Snapshot, func(), error) {
	if !m.cfg.Enable {
		return nil, nil, fmt.Errorf("process scanner disabled")
	}
	if !slices.Contains(m.interfaces, iface) {
		return nil, nil, fmt.Errorf("unknown interface %q", iface)
	}

	sub := newProcSubscriber()

	m.mu.Lock()
	if _, ok := m.subscribers[iface]; !ok {
		m.subscribers[iface] = make(map[*procSubscriber]struct{})
	}
	m.subscribers[iface][sub] = struct{}{}

	if snapshot, ok := m.latest[iface]; ok {
		sub.send(snapshot)
	}
	m.mu.Unlock()

	unsubscribe := func() {
		m.removeSubscriber(iface, sub)
	}
	return sub.channel(), unsubscribe, nil
}

// Interfaces enumerates interfaces tracked by the manager.
func (m *Manager) Interfaces() []string {
	return slices.Clone(m.interfaces)
}

// Ready reports whether at least one scan has been performed.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.lastScan.IsZero()
}

func (m *Manager) performScan(now time.Time) {
	collections, err := m.collector.collect()
	if err != nil {
		m.logger.Warn("process scan failed", "err", err)
		return
	}

	for _, iface := range m.interfaces {
		raws := collections[iface]
		processes := make([]Process, 0, len(raws))
		for _, raw := range raws {
			processes = append(processes, Process{
				PID:     raw.pid,
				UID:     raw.uid,
				User:    raw.user,
				Name:    raw.name,
				Command: raw.command,
				Devices: raw.devices,
				FDs:     raw.fds,
			})
		}

		sort.Slice(processes, func(i, j int) bool {
			if processes[i].FDs == processes[j].FDs {
				return processes[i].PID < processes[j].PID
			}
			return processes[i].FDs > processes[j].FDs
		})

		m.publish(Snapshot{
			Interface: iface,
			Timestamp: now.UTC(),
			Processes: processes,
		})
	}

	m.mu.Lock()
	m.lastScan = now
	m.mu.Unlock()
}

func (m *Manager) publish(snapshot Snapshot) {
	m.mu.Lock()
	m.latest[snapshot.Interface] = snapshot
	subs := make([]*procSubscriber, 0, len(m.subscribers[snapshot.Interface]))
	for sub := range m.subscribers[snapshot.Interface] {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.send(snapshot)
	}
}

func (m *Manager) removeSubscriber(iface string, sub *procSubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[iface]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.subscribers, iface)
		}
	}
	sub.close()
}

// Close releases any filesystem handles retained by the manager.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		if m.collector != nil {
			if err := m.collector.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close collector: %w", err))
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

type procSubscriber struct {
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

func newProcSubscriber() *procSubscriber {
	return &procSubscriber{
		ch: make(chan Snapshot, 1),
	}
}

func (s *procSubscriber) channel() <-chan Snapshot {
	return s.ch
}

func (s *procSubscriber) send(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snapshot:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snapshot:
		default:
		}
	}
}

func (s *procSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
