package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	// The clock's time should be between our before/after measurements
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) {
		t.Errorf("Clock time %v is before measurement time %v", now, before)
	}
	if now.After(after) {
		t.Errorf("Clock time %v is after measurement time %v", now, after)
	}
}

func TestRealClock_Ticker(t *testing.T) {
	clock := RealClock{}
	tk := clock.NewTicker(5 * time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire within 1s")
	}
}

func TestMockClock_Now_Consistent(t *testing.T) {
	fixedTime := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)

	first := clock.Now()
	second := clock.Now()

	if !first.Equal(fixedTime) || !first.Equal(second) {
		t.Errorf("Mock clock should return the fixed time: first=%v, second=%v", first, second)
	}
}

func TestMockClock_Advance(t *testing.T) {
	initialTime := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(initialTime)

	testCases := []struct {
		name     string
		duration time.Duration
		expected time.Time
	}{
		{
			name:     "advance by 1 hour",
			duration: 1 * time.Hour,
			expected: initialTime.Add(1 * time.Hour),
		},
		{
			name:     "advance by 30 minutes more",
			duration: 30 * time.Minute,
			expected: initialTime.Add(1*time.Hour + 30*time.Minute),
		},
		{
			name:     "advance by zero",
			duration: 0,
			expected: initialTime.Add(1*time.Hour + 30*time.Minute),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock.Advance(tc.duration)
			if got := clock.Now(); !got.Equal(tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestMockClock_TickerFiresOnlyAfterDeadline(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	tk := clock.NewTicker(2 * time.Second)

	clock.Advance(1999 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its deadline")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire at its deadline")
	}
}

func TestMockClock_TickerDropsTicksForSlowReceiver(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	tk := clock.NewTicker(time.Second)

	// Five deadlines pass, but the buffered channel only holds one tick.
	clock.Advance(5 * time.Second)
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("expected dropped ticks, got a queued one")
	default:
	}
}

func TestMockClock_StoppedTickerDoesNotFire(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	tk := clock.NewTicker(time.Second)
	if got := clock.Tickers(); got != 1 {
		t.Fatalf("Tickers()=%d want=1", got)
	}

	tk.Stop()
	clock.Advance(10 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if got := clock.Tickers(); got != 0 {
		t.Fatalf("Tickers()=%d want=0 after stop", got)
	}
}

func TestMockClock_NewTickerPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for zero interval")
		}
	}()
	NewMockClock(time.Now()).NewTicker(0)
}
