package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testSchedule() Schedule {
	return Schedule{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxAttempts:  5,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDefaultSchedule(t *testing.T) {
	got := DefaultSchedule()
	want := Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
	if got != want {
		t.Errorf("DefaultSchedule() = %+v, want %+v", got, want)
	}
	if (Schedule{}).withDefaults() != want {
		t.Error("zero schedule should take every default")
	}
}

func TestWatcher_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	var changes atomic.Int32

	m := NewManager(quietLogger())
	w, err := m.Watch(t.Context(), Target{
		Name:     "openai",
		Probe:    func(context.Context) error { return nil },
		Schedule: testSchedule(),
		OnChange: func(s Status) {
			if s.Ready {
				changes.Add(1)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	eventually(t, "ready", w.Ready)
	eventually(t, "OnChange", func() bool { return changes.Load() == 1 })
	if s := w.Status(); s.LastError != "" || s.LastCheck.IsZero() || s.Failures != 0 {
		t.Errorf("status = %+v", s)
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32

	m := NewManager(quietLogger())
	w, err := m.Watch(t.Context(), Target{
		Name: "ollama",
		Probe: func(context.Context) error {
			if attempts.Add(1) <= 3 {
				return errors.New("connection refused")
			}
			return nil
		},
		Schedule: testSchedule(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	eventually(t, "ready after retries", w.Ready)
	if n := attempts.Load(); n < 4 {
		t.Errorf("attempts = %d, want >= 4", n)
	}
}

func TestWatcher_ExhaustsStartupThenPolls(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32

	m := NewManager(quietLogger())
	w, err := m.Watch(t.Context(), Target{
		Name:     "ollama",
		Probe:    func(context.Context) error { attempts.Add(1); return errors.New("down") },
		Schedule: testSchedule(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Startup gives up after 5 attempts; polling keeps probing.
	eventually(t, "background polling", func() bool { return attempts.Load() > 6 })
	s := w.Status()
	if s.Ready || s.LastError != "down" || s.Failures < 6 {
		t.Errorf("status = %+v", s)
	}
}

func TestWatcher_Transitions(t *testing.T) {
	t.Parallel()
	var failing atomic.Bool
	var downs, ups atomic.Int32

	m := NewManager(quietLogger())
	w, err := m.Watch(t.Context(), Target{
		Name: "openai",
		Probe: func(context.Context) error {
			if failing.Load() {
				return errors.New("503")
			}
			return nil
		},
		Schedule: testSchedule(),
		OnChange: func(s Status) {
			if s.Ready {
				ups.Add(1)
			} else {
				downs.Add(1)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	eventually(t, "initial ready", w.Ready)

	failing.Store(true)
	eventually(t, "down", func() bool { return !w.Ready() })
	eventually(t, "OnChange down", func() bool { return downs.Load() == 1 })

	failing.Store(false)
	eventually(t, "recovered", w.Ready)
	eventually(t, "OnChange up", func() bool { return ups.Load() == 2 })
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	t.Parallel()
	sched := testSchedule()
	sched.ProbeTimeout = 5 * time.Millisecond

	m := NewManager(quietLogger())
	w, err := m.Watch(t.Context(), Target{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Schedule: sched,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	eventually(t, "timeout recorded", func() bool { return w.Status().LastError != "" })
	if w.Ready() {
		t.Error("a probe that times out must not count as ready")
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32

	m := NewManager(quietLogger())
	w, err := m.Watch(ctx, Target{
		Name:     "openai",
		Probe:    func(context.Context) error { attempts.Add(1); return nil },
		Schedule: testSchedule(),
	})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "first probe", func() bool { return attempts.Load() > 0 })

	cancel()
	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after cancel")
	}
	n := attempts.Load()
	time.Sleep(20 * time.Millisecond)
	if attempts.Load() != n {
		t.Error("probes continued after cancel")
	}
}

func TestManager_WatchValidation(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Watch(t.Context(), Target{Probe: func(context.Context) error { return nil }}); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := m.Watch(t.Context(), Target{Name: "x"}); err == nil {
		t.Error("expected error for nil probe")
	}
}

func TestManager_StatusAndReady(t *testing.T) {
	t.Parallel()
	m := NewManager(quietLogger())
	defer m.Stop()

	for _, tt := range []struct {
		name string
		err  error
	}{
		{"openai", nil},
		{"ollama", errors.New("connection refused")},
	} {
		if _, err := m.Watch(t.Context(), Target{
			Name:     tt.name,
			Probe:    func(context.Context) error { return tt.err },
			Schedule: testSchedule(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, "both probed", func() bool {
		for _, s := range m.Status() {
			if s.LastCheck.IsZero() {
				return false
			}
		}
		return true
	})

	st := m.Status()
	if len(st) != 2 || st[0].Name != "ollama" || st[1].Name != "openai" {
		t.Fatalf("status = %+v, want ollama then openai", st)
	}
	if st[0].Ready || !st[1].Ready {
		t.Errorf("readiness = %v/%v, want false/true", st[0].Ready, st[1].Ready)
	}
	if m.Ready() {
		t.Error("manager should not be ready while ollama is down")
	}
}

func TestManager_WatchReplaces(t *testing.T) {
	t.Parallel()
	m := NewManager(quietLogger())
	defer m.Stop()

	first, err := m.Watch(t.Context(), Target{Name: "openai", Probe: func(context.Context) error { return nil }, Schedule: testSchedule()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Watch(t.Context(), Target{Name: "openai", Probe: func(context.Context) error { return nil }, Schedule: testSchedule()}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-first.done:
	default:
		t.Error("replaced watcher should be stopped")
	}
	if len(m.Status()) != 1 {
		t.Errorf("status has %d entries, want 1", len(m.Status()))
	}
}
