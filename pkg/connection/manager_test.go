package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// instantConfig replaces backoff waits with a channel that fires at once and
// records the requested delays.
func instantConfig(delays *[]time.Duration, mu *sync.Mutex) Config {
	cfg := DefaultConfig()
	cfg.Backoff.Jitter = -1
	cfg.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return cfg
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func TestManagerRetriesWithBackoff(t *testing.T) {
	var (
		mu     sync.Mutex
		delays []time.Duration
		calls  atomic.Int32
	)
	m := NewManager("child-a", func(ctx context.Context) error {
		if calls.Add(1) < 4 {
			return errors.New("refused")
		}
		return nil
	}, instantConfig(&delays, &mu))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitState(t, m, StateConnected)
	if m.Attempts() != 0 {
		t.Errorf("Attempts() = %d after success, want 0", m.Attempts())
	}

	mu.Lock()
	got := append([]time.Duration(nil), delays...)
	mu.Unlock()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, got[i], want[i])
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if m.State() != StateClosed {
		t.Errorf("State() = %v after Run, want CLOSED", m.State())
	}
}

func TestManagerRedialsAfterLoss(t *testing.T) {
	var (
		mu     sync.Mutex
		delays []time.Duration
		calls  atomic.Int32
	)
	cfg := instantConfig(&delays, &mu)
	var transitions []State
	var tmu sync.Mutex
	cfg.OnStateChange = func(from, to State) {
		tmu.Lock()
		transitions = append(transitions, to)
		tmu.Unlock()
	}
	m := NewManager("child-b", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, cfg)

	go m.Run(context.Background())
	defer m.Close()

	waitState(t, m, StateConnected)
	m.NotifyConnectionLost()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("connect called %d times, want a redial", calls.Load())
	}
	waitState(t, m, StateConnected)

	mu.Lock()
	if len(delays) != 1 || delays[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", delays)
	}
	mu.Unlock()

	tmu.Lock()
	defer tmu.Unlock()
	want := []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}
	if len(transitions) < len(want) {
		t.Fatalf("transitions = %v, want prefix %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestManagerCloseStopsWaiting(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager("child-c", func(ctx context.Context) error {
		return errors.New("down")
	}, cfg)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	waitState(t, m, StateReconnecting)
	m.Close()
	m.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrManagerClosed) {
			t.Errorf("Run() = %v, want ErrManagerClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestManagerStaleLossIgnored(t *testing.T) {
	var calls atomic.Int32
	m := NewManager("child-d", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, DefaultConfig())

	// Reported before the first dial; must not tear down the new link.
	m.NotifyConnectionLost()

	go m.Run(context.Background())
	defer m.Close()

	waitState(t, m, StateConnected)
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("connect called %d times, want 1", calls.Load())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
