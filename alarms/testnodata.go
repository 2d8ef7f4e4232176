package alarms

import (
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/expr"
	"github.com/campbell-alarms/engine/internal/clock"
	internalerrors "github.com/campbell-alarms/engine/internal/errors"
)

// TestNoData is the no-data test variant: a watchdog timer that
// triggers when no value or record arrives within interval (spec
// §4.2). Every OnValue/OnRecord call (treated identically: any data
// arriving clears and re-arms the watchdog) disarms a pending trigger
// and restarts the timer; a nil record is the boundary signal used to
// re-evaluate the condition from the timer callback and must not
// re-arm.
type TestNoData struct {
	clock    clock.Clock
	interval time.Duration
	onFire   func()

	cancel    clock.CancelFunc
	triggered bool
}

// NewTestNoData validates interval and constructs a TestNoData. A
// zero or negative interval is rejected at construction time (config
// load), not deferred to first use, since an alarm with an unarmable
// watchdog would silently never fire.
func NewTestNoData(c clock.Clock, interval time.Duration, onFire func()) (*TestNoData, error) {
	if interval <= 0 {
		return nil, internalerrors.ConfigInvalidValue("test", "no-data-interval", interval.String())
	}
	return &TestNoData{clock: c, interval: interval, onFire: onFire}, nil
}

func (t *TestNoData) arm() {
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = t.clock.AfterFunc(t.interval, t.fire)
}

func (t *TestNoData) fire() {
	t.triggered = true
	if t.onFire != nil {
		t.onFire()
	}
}

func (t *TestNoData) dataReceived() {
	t.triggered = false
	t.arm()
}

// OnValue treats any delivered value as data having arrived.
func (t *TestNoData) OnValue(v expr.Value, now time.Time) (bool, error) {
	t.dataReceived()
	return t.triggered, nil
}

// OnRecord treats a non-nil record as data having arrived; a nil
// record is the watchdog's own fire notification being replayed
// through the alarm's normal evaluation path and must not rearm it.
func (t *TestNoData) OnRecord(rec *datasource.Record, now time.Time) (bool, error) {
	if rec == nil {
		return t.triggered, nil
	}
	t.dataReceived()
	return t.triggered, nil
}

// OnStarted clears any latent trigger and arms the watchdog.
func (t *TestNoData) OnStarted(now time.Time) {
	t.triggered = false
	t.arm()
}

// OnStopped disarms the watchdog timer.
func (t *TestNoData) OnStopped() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// HasOnCondition mirrors IsTriggered for a no-data test: there is no
// separate on-expression to evaluate independently of latching.
func (t *TestNoData) HasOnCondition() bool { return t.triggered }

// IsTriggered reports whether the watchdog has fired since the last
// data arrival.
func (t *TestNoData) IsTriggered() bool { return t.triggered }

// FormatEntrance is a fixed message: no-data conditions carry no
// expression to annotate.
func (t *TestNoData) FormatEntrance() string { return "no data received" }

// FormatExit is a fixed message.
func (t *TestNoData) FormatExit() string { return "data received" }

// Kind reports the config XML type attribute for a no-data test.
func (t *TestNoData) Kind() string { return "no-data" }

// Interval returns the configured watchdog interval, for config
// round-trip.
func (t *TestNoData) Interval() time.Duration { return t.interval }
