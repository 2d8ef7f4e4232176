package alarms

import (
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/expr"
)

// Test decides whether a condition is triggered given new values,
// records, or a watchdog timer (spec §3 "Test", §4.2 "Test Variants").
// Tests never throw to the alarm: an evaluation error is recorded by
// the caller (via the returned error) and leaves IsTriggered unchanged.
type Test interface {
	// OnValue is called with the alarm's newly evaluated source
	// expression value, in value-mode (non-table alarms).
	OnValue(v expr.Value, now time.Time) (bool, error)
	// OnRecord is called with a whole-table record, in table-mode
	// alarms. rec is nil at the boundary when no value is available
	// yet, to let a no-data test trigger at start.
	OnRecord(rec *datasource.Record, now time.Time) (bool, error)
	// OnStarted resets any transient state (e.g. a no-data watchdog's
	// armed timer, a data test's was_triggered flag) on alarm start.
	OnStarted(now time.Time)
	// OnStopped disarms any owned resources (timers).
	OnStopped()
	// HasOnCondition reports whether the last-evaluated on-expression
	// was truthy, independent of latching (spec §4.2).
	HasOnCondition() bool
	// IsTriggered reports the test's current triggered state.
	IsTriggered() bool
	// FormatEntrance annotates the stored expression text with current
	// variable values, for the alarm-triggered log event.
	FormatEntrance() string
	// FormatExit annotates the stored expression text with current
	// variable values, for the alarm-off log event.
	FormatExit() string
	// Kind identifies the test's config XML type attribute: "data" or
	// "no-data".
	Kind() string
}
