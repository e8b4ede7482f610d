package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(time.Second)

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, start.Add(500*time.Millisecond), clock.Now())
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case got := <-ticker.C():
		assert.Equal(t, start.Add(time.Second), got)
	default:
		t.Fatal("ticker did not fire at its interval")
	}
}

func TestMockClock_SlowReaderLosesTicks(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(time.Second)
	clock.Advance(time.Second)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected the second tick to be dropped")
	default:
	}
}

func TestMockClock_StoppedTicker(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	assert.Equal(t, 1, clock.Tickers())

	ticker.Stop()
	assert.Equal(t, 0, clock.Tickers())
	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_TicksStampedWithSchedule(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(250 * time.Millisecond)

	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, start.Add(250*time.Millisecond), <-ticker.C())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, start.Add(500*time.Millisecond), <-ticker.C())
}
