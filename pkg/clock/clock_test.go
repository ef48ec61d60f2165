package clock

import (
	"testing"
	"time"
)

func TestTimebaseConversion(t *testing.T) {
	tests := []struct {
		name  string
		tb    Timebase
		ticks int64
		want  time.Duration
	}{
		{"nanosecond", NanosecondTimebase, 1500, 1500 * time.Nanosecond},
		{"mach-style 125/3", Timebase{Numer: 125, Denom: 3}, 24, 1000 * time.Nanosecond},
		{"negative delta", NanosecondTimebase, -20, -20 * time.Nanosecond},
		{"zero timebase falls back", Timebase{}, 7, 7 * time.Nanosecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tb.ToDuration(tt.ticks); got != tt.want {
				t.Errorf("ToDuration(%d) = %v, want %v", tt.ticks, got, tt.want)
			}
			if got := tt.tb.FromDuration(tt.want); got != tt.ticks {
				t.Errorf("FromDuration(%v) = %d, want %d", tt.want, got, tt.ticks)
			}
		})
	}
}

func TestManualAdvanceFiresInOrder(t *testing.T) {
	c := NewManual(0)

	var order []int
	c.AfterFunc(30*time.Millisecond, func() { order = append(order, 3) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })

	c.Advance(15 * time.Millisecond)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("after 15ms fired %v, want [1]", order)
	}

	c.Advance(time.Second)
	if len(order) != 3 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fired %v, want [1 2 3]", order)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestManualStop(t *testing.T) {
	c := NewManual(0)

	fired := false
	timer := c.AfterFunc(time.Millisecond, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("first Stop should report true")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	c.Advance(time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestManualNowAndTicks(t *testing.T) {
	c := NewManual(2 * time.Second)
	if c.Now() != 2.0 {
		t.Errorf("Now = %v, want 2", c.Now())
	}
	if c.Ticks() != int64(2*time.Second) {
		t.Errorf("Ticks = %d, want %d", c.Ticks(), int64(2*time.Second))
	}

	c.SetTimebase(Timebase{Numer: 1000, Denom: 1}) // 1 tick = 1us
	if c.Ticks() != 2_000_000 {
		t.Errorf("Ticks with us timebase = %d, want 2000000", c.Ticks())
	}
}

func TestManualTimerScheduledFromCallback(t *testing.T) {
	c := NewManual(0)

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(100 * time.Millisecond)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestSystemClockMonotonic(t *testing.T) {
	c := NewSystem()
	a := c.Ticks()
	time.Sleep(time.Millisecond)
	b := c.Ticks()
	if b <= a {
		t.Errorf("ticks not increasing: %d then %d", a, b)
	}

	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc did not fire")
	}
}

func TestOffsetClock(t *testing.T) {
	base := NewManual(10 * time.Second)
	ahead := WithOffset(base, 250*time.Millisecond)

	if got := ahead.Now(); got != 10.25 {
		t.Errorf("Now = %v, want 10.25", got)
	}
	if got := ahead.Ticks(); got != int64(10250*time.Millisecond) {
		t.Errorf("Ticks = %d", got)
	}

	behind := WithOffset(base, -time.Second)
	if got := behind.Now(); got != 9 {
		t.Errorf("Now = %v, want 9", got)
	}

	fired := false
	ahead.AfterFunc(time.Second, func() { fired = true })
	base.Advance(time.Second)
	if !fired {
		t.Error("timer not delegated to base clock")
	}
}
