// Package connwatch tracks whether the model providers behind the agent
// are reachable.
//
// Each Watcher probes one provider in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling with state-transition callbacks
//
// This sits above httpkit's request-level retry. A failed probe never
// blocks a cycle; it only changes what the health endpoint reports.
package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProbeFunc checks whether a provider is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttempts bounds the startup phase, first probe included.
	MaxAttempts  int
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// DefaultSchedule returns 2s doubling to 60s over 10 startup attempts,
// then a probe every minute.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults replaces zero fields with DefaultSchedule values.
func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = d.MaxDelay
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = d.MaxAttempts
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

// Target describes one provider to watch.
type Target struct {
	Name     string
	Probe    ProbeFunc
	Schedule Schedule

	// OnChange is called, in its own goroutine, whenever readiness flips.
	OnChange func(Status)
}

// Status is a provider's health as reported by the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

// Watcher monitors one provider.
type Watcher struct {
	target Target
	logger *slog.Logger
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
	failures  int
}

// Ready reports whether the provider answered its last probe.
func (w *Watcher) Ready() bool {
	return w.ready.Load()
}

// Status returns a snapshot of the watcher's state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:      w.target.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
		Failures:  w.failures,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	sched := w.target.Schedule

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sched.InitialDelay
	b.MaxInterval = sched.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return w.check(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(sched.MaxAttempts-1)), ctx),
		func(err error, next time.Duration) {
			w.logger.Debug("provider probe failed, retrying",
				"provider", w.target.Name,
				"attempt", attempts,
				"next_delay", next,
				"error", err,
			)
		})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		w.logger.Info("provider reachable", "provider", w.target.Name, "after_attempts", attempts)
	} else {
		w.logger.Warn("provider unreachable, polling in background",
			"provider", w.target.Name,
			"attempts", attempts,
			"error", err,
		)
	}

	ticker := time.NewTicker(sched.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check runs one probe, records it and fires OnChange on a transition.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.target.Schedule.ProbeTimeout)
	err := w.target.Probe(probeCtx)
	cancel()
	if err != nil && ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}

	w.mu.Lock()
	first := w.lastCheck.IsZero()
	w.lastErr = err
	w.lastCheck = time.Now()
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	w.mu.Unlock()

	ready := err == nil
	if w.ready.Swap(ready) == ready {
		return err
	}
	// The startup phase logs its own outcome.
	if !first {
		if ready {
			w.logger.Info("provider recovered", "provider", w.target.Name)
		} else {
			w.logger.Warn("provider became unreachable", "provider", w.target.Name, "error", err)
		}
	}
	if w.target.OnChange != nil {
		go w.target.OnChange(w.Status())
	}
	return err
}

// Manager owns the watchers for all providers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts a watcher for t that runs until ctx is cancelled or Stop
// is called. Watching a name twice replaces the earlier watcher.
func (m *Manager) Watch(ctx context.Context, t Target) (*Watcher, error) {
	if t.Name == "" {
		return nil, errors.New("connwatch: target name is required")
	}
	if t.Probe == nil {
		return nil, errors.New("connwatch: target probe is required")
	}
	t.Schedule = t.Schedule.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		target: t,
		logger: m.logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	old := m.watchers[t.Name]
	m.watchers[t.Name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(watchCtx)
	return w, nil
}

// Status returns every watcher's status, ordered by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched provider is reachable.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.Ready() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
