package clock_test

import (
	"testing"
	"time"

	"pkt.systems/hsearch/internal/clock"
)

func TestRealNowIsUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if now.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", now.Location())
	}
}

func TestOrFallsBackToReal(t *testing.T) {
	t.Parallel()

	if _, ok := clock.Or(nil).(clock.Real); !ok {
		t.Fatal("expected Real clock for nil input")
	}
	m := clock.NewManual(time.Unix(0, 0))
	if clock.Or(m) != clock.Clock(m) {
		t.Fatal("expected supplied clock to be returned")
	}
}

func TestManualAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	ch := m.After(5 * time.Second)
	if m.Waiters() != 1 {
		t.Fatalf("expected 1 waiter, got %d", m.Waiters())
	}

	m.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	m.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	default:
		t.Fatal("expected waiter to fire")
	}
	if m.Waiters() != 0 {
		t.Fatalf("expected no waiters, got %d", m.Waiters())
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(100, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("expected immediate fire")
	}
}

func TestManualSetBackwardsKeepsWaiters(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	m := clock.NewManual(start)
	_ = m.After(time.Second)
	m.Set(start.Add(-time.Hour))
	if m.Waiters() != 1 {
		t.Fatalf("expected waiter to survive, got %d", m.Waiters())
	}
	if !m.Now().Equal(start.Add(-time.Hour).UTC()) {
		t.Fatalf("unexpected now %v", m.Now())
	}
}
