package alarms

import (
	"testing"
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/datasource/memory"
	"github.com/campbell-alarms/engine/expr"
	"github.com/campbell-alarms/engine/internal/clock"
)

// fakeAlarmHost is a minimal AlarmHost test double recording log
// events and eval-error calls for assertions.
type fakeAlarmHost struct {
	ds         datasource.Manager
	c          clock.Clock
	logs       []LogEvent
	evalErrors []string
}

func (h *fakeAlarmHost) DataSources() datasource.Manager { return h.ds }
func (h *fakeAlarmHost) Clock() clock.Clock               { return h.c }
func (h *fakeAlarmHost) AddLog(event LogEvent)            { h.logs = append(h.logs, event) }
func (h *fakeAlarmHost) RecordEvalError(alarmID string)   { h.evalErrors = append(h.evalErrors, alarmID) }

func newTestAlarm(t *testing.T, host *fakeAlarmHost, sourceText string, latched bool, conditions []*Condition) *Alarm {
	t.Helper()
	factory := expr.NewTokenFactory()
	h, reqs, err := factory.MakeExpression(sourceText, expr.Defaults{})
	if err != nil {
		t.Fatalf("MakeExpression(%q): %v", sourceText, err)
	}
	return NewAlarm("a1", "Test Alarm", sourceText, h, reqs, conditions, latched, "V", host, host.c, nil)
}

func newDataCondition(t *testing.T, name, onExpr, offExpr string) *Condition {
	t.Helper()
	factory := expr.NewTokenFactory()
	on, _, err := factory.MakeExpression(onExpr, expr.Defaults{})
	if err != nil {
		t.Fatalf("MakeExpression(%q): %v", onExpr, err)
	}
	var off *expr.ExpressionHandler
	if offExpr != "" {
		off, _, err = factory.MakeExpression(offExpr, expr.Defaults{})
		if err != nil {
			t.Fatalf("MakeExpression(%q): %v", offExpr, err)
		}
	}
	return NewCondition(name, NewTestData(onExpr, on, offExpr, off), nil)
}

func TestAlarmTriggersAndClearsNonLatched(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "BattV", false, []*Condition{cond})

	a.Start()
	if !a.started {
		t.Fatalf("expected alarm to be started")
	}

	now := host.c.Now()
	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(101, now)}, Stamp: now},
	})

	if a.TriggeredCondition() == nil {
		t.Fatalf("expected alarm to be triggered at BattV=101")
	}

	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(50, now)}, Stamp: now},
	})
	if a.TriggeredCondition() != nil {
		t.Fatalf("expected alarm to clear at BattV=50")
	}
}

func TestAlarmLatchedStaysOnUntilAcknowledged(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "BattV", true, []*Condition{cond})
	a.Start()

	now := host.c.Now()
	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(101, now)}, Stamp: now},
	})
	if a.TriggeredCondition() == nil {
		t.Fatalf("expected trigger")
	}

	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(50, now)}, Stamp: now},
	})
	if a.TriggeredCondition() == nil {
		t.Fatalf("expected a latched alarm to remain triggered despite the condition clearing")
	}

	a.Acknowledge("operator reviewed")
	if a.TriggeredCondition() != nil {
		t.Fatalf("expected the latched alarm to clear once acknowledged, the test having already gone false")
	}
}

func TestAlarmLatchedAckedWhileStillTriggeredIgnoresLaterOffCondition(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "BattV", true, []*Condition{cond})
	a.Start()

	now := host.c.Now()
	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(101, now)}, Stamp: now},
	})
	if a.TriggeredCondition() == nil {
		t.Fatalf("expected trigger")
	}

	// Acknowledge while the condition is still active (spec §8 scenario
	// 2: "periodic repeat until ack... acknowledge stops further
	// firings").
	a.Acknowledge("operator reviewed")
	if a.TriggeredCondition() == nil {
		t.Fatalf("expected the alarm to remain triggered: acknowledging a still-active condition must not clear it")
	}
	logsBeforeOffCondition := len(host.logs)

	// The on-expression later goes false. A latched+acked alarm must
	// NOT auto-clear through this path; it only ever clears via
	// Acknowledge's own explicit off-check.
	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(50, now)}, Stamp: now},
	})
	if a.TriggeredCondition() == nil {
		t.Fatalf("expected the latched+acked alarm to remain triggered after the off-condition, not auto-clear")
	}
	for _, e := range host.logs[logsBeforeOffCondition:] {
		if e.Kind == "alarm-off" {
			t.Fatalf("expected no alarm-off log once a latched alarm has been acknowledged while still triggered, got: %+v", e)
		}
	}
}

func TestAlarmAcknowledgeIsIdempotent(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "BattV", true, []*Condition{cond})
	a.Start()

	now := host.c.Now()
	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(101, now)}, Stamp: now},
	})

	a.Acknowledge("first")
	if !a.Acknowledged() {
		t.Fatalf("expected acknowledged true")
	}
	logsBefore := len(host.logs)
	a.Acknowledge("second")
	if len(host.logs) != logsBefore {
		t.Fatalf("expected a second Acknowledge call to be a no-op")
	}
}

func TestAlarmStopIsIdempotentAndCancelsSubscriptions(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "BattV", false, []*Condition{cond})
	a.Start()
	a.Stop()
	a.Stop() // must not panic or double-cancel

	if a.started {
		t.Fatalf("expected started to be false after Stop")
	}
}

func TestAlarmEvalErrorRecordedOnHost(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "1 / BattV", false, []*Condition{cond})
	a.Start()

	now := host.c.Now()
	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewInt(0, now)}, Stamp: now},
	})

	if len(host.evalErrors) != 1 || host.evalErrors[0] != "a1" {
		t.Fatalf("expected one eval error recorded for alarm a1, got %v", host.evalErrors)
	}
}

func TestAlarmIgnoreNextRecordSuppressesOneMatchingRecord(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "BattV", false, []*Condition{cond})
	a.Start()

	a.IgnoreNextRecord("BattV.field")
	now := host.c.Now()
	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(101, now)}, Stamp: now},
	})
	if a.TriggeredCondition() != nil {
		t.Fatalf("expected the ignored record to be suppressed, not dispatched")
	}

	ds.Deliver(a.sourceReqs[0], []datasource.Record{
		{URI: "BattV", Fields: map[string]expr.Value{"BattV": expr.NewDouble(101, now)}, Stamp: now},
	})
	if a.TriggeredCondition() == nil {
		t.Fatalf("expected the next matching record to dispatch normally")
	}
}

func TestAlarmIgnoreQueueIsBounded(t *testing.T) {
	ds := memory.NewManager()
	host := &fakeAlarmHost{ds: ds, c: clock.NewFake(time.Now())}
	cond := newDataCondition(t, "high", "Value > 100", "")
	a := newTestAlarm(t, host, "BattV", false, []*Condition{cond})

	for i := 0; i < maxIgnoreEntries+5; i++ {
		a.IgnoreNextRecord("uri")
	}
	if len(a.ignoreQueue) != maxIgnoreEntries {
		t.Fatalf("expected ignore queue capped at %d, got %d", maxIgnoreEntries, len(a.ignoreQueue))
	}
}
