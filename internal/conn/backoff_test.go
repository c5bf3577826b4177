package conn

import (
	"testing"
	"time"
)

func TestNextDelaySchedule(t *testing.T) {
	b := NewBackoff(500*time.Millisecond, 10*time.Second, 0, 6)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // 16s > cap
		{6, 10 * time.Second},
		{20, 10 * time.Second}, // exponent capped at MaxAttempt
	}
	for _, tt := range tests {
		if got := b.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffMonotonicWithCap(t *testing.T) {
	b := NewBackoff(500*time.Millisecond, 10*time.Second, 250*time.Millisecond, 6)

	prev := time.Duration(0)
	for i := 1; i <= 6; i++ {
		d := b.Next()
		if d+b.Jitter < prev {
			t.Errorf("attempt %d: delay %v decreased below %v", i, d, prev-b.Jitter)
		}
		if d > b.Cap+b.Jitter {
			t.Errorf("attempt %d: delay %v exceeds cap+jitter %v", i, d, b.Cap+b.Jitter)
		}
		prev = d
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 0, 6)
	b.Next()
	b.Next()
	b.Next()
	if b.Attempt() != 3 {
		t.Fatalf("attempt = %d, want 3", b.Attempt())
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("attempt after reset = %d, want 0", b.Attempt())
	}
	if got := b.Next(); got != time.Second {
		t.Errorf("after reset: got %v, want %v", got, time.Second)
	}
}
