package alarms

import (
	"testing"
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/internal/clock"
)

func TestNewTestNoDataRejectsNonPositiveInterval(t *testing.T) {
	c := clock.NewFake(time.Now())
	if _, err := NewTestNoData(c, 0, nil); err == nil {
		t.Fatalf("expected an error for a zero interval")
	}
	if _, err := NewTestNoData(c, -time.Second, nil); err == nil {
		t.Fatalf("expected an error for a negative interval")
	}
}

func TestTestNoDataFiresOnWatchdogExpiry(t *testing.T) {
	start := time.Now()
	c := clock.NewFake(start)
	fired := 0
	nd, err := NewTestNoData(c, time.Minute, func() { fired++ })
	if err != nil {
		t.Fatalf("NewTestNoData: %v", err)
	}

	nd.OnStarted(start)
	if nd.IsTriggered() {
		t.Fatalf("should not be triggered immediately after start")
	}

	c.Advance(time.Minute)
	if !nd.IsTriggered() {
		t.Fatalf("expected the watchdog to trigger after the interval elapses")
	}
	if fired != 1 {
		t.Fatalf("expected onFire to be called once, got %d", fired)
	}
}

func TestTestNoDataRearmsOnData(t *testing.T) {
	start := time.Now()
	c := clock.NewFake(start)
	nd, err := NewTestNoData(c, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewTestNoData: %v", err)
	}
	nd.OnStarted(start)

	c.Advance(30 * time.Second)
	if triggered, _ := nd.OnRecord(&datasource.Record{}, start.Add(30*time.Second)); triggered {
		t.Fatalf("receiving data should rearm, not trigger")
	}

	// The watchdog was rearmed on data, so it should not fire at the
	// original deadline.
	c.Advance(30 * time.Second)
	if nd.IsTriggered() {
		t.Fatalf("watchdog should not have fired: it was rearmed 30s in")
	}

	c.Advance(30 * time.Second)
	if !nd.IsTriggered() {
		t.Fatalf("expected the watchdog to fire a full interval after rearming")
	}
}

func TestTestNoDataNilRecordIsBoundaryNotRearm(t *testing.T) {
	start := time.Now()
	c := clock.NewFake(start)
	nd, err := NewTestNoData(c, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewTestNoData: %v", err)
	}
	nd.OnStarted(start)

	c.Advance(time.Minute)
	if !nd.IsTriggered() {
		t.Fatalf("expected watchdog to fire")
	}

	// A nil-record replay (the watchdog's own boundary signal) must not
	// rearm the timer again.
	if triggered, _ := nd.OnRecord(nil, start.Add(time.Minute)); !triggered {
		t.Fatalf("expected triggered state to persist across a nil-record replay")
	}
}

func TestTestNoDataStopCancelsTimer(t *testing.T) {
	start := time.Now()
	c := clock.NewFake(start)
	fired := 0
	nd, err := NewTestNoData(c, time.Minute, func() { fired++ })
	if err != nil {
		t.Fatalf("NewTestNoData: %v", err)
	}
	nd.OnStarted(start)
	nd.OnStopped()

	c.Advance(time.Minute)
	if fired != 0 {
		t.Fatalf("expected no fire after Stop, got %d", fired)
	}
}
