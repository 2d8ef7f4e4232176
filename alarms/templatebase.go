package alarms

import (
	"time"

	"github.com/campbell-alarms/engine/internal/clock"
)

// ActionTemplateBase implements the delay/interval timer-arming logic
// shared by every concrete action template (spec §4.4
// ActionTemplateBase.on_alarm_on / on_alarm_off): if initial_delay is
// zero, fire immediately; otherwise arm a one-shot timer for
// initial_delay. If interval is non-zero, re-arm after every fire
// until on_alarm_off. Only one timer is ever outstanding at a time,
// mirroring the single reused delay_id of the original template.
type ActionTemplateBase struct {
	initialDelay time.Duration
	interval     time.Duration
	clock        clock.Clock

	cancel clock.CancelFunc
	fire   func(ctx TriggerContext)
}

// NewActionTemplateBase constructs the shared timer state. fire is
// invoked (possibly after a delay) with the TriggerContext captured at
// arm time.
func NewActionTemplateBase(c clock.Clock, initialDelay, interval time.Duration, fire func(ctx TriggerContext)) *ActionTemplateBase {
	return &ActionTemplateBase{clock: c, initialDelay: initialDelay, interval: interval, fire: fire}
}

func (b *ActionTemplateBase) InitialDelay() time.Duration { return b.initialDelay }
func (b *ActionTemplateBase) Interval() time.Duration     { return b.interval }

// Arm starts (or immediately runs) the delay/interval sequence for one
// alarm-on transition.
func (b *ActionTemplateBase) Arm(ctx TriggerContext) {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.initialDelay <= 0 {
		b.fire(ctx)
		b.scheduleNext(ctx)
		return
	}
	b.cancel = b.clock.AfterFunc(b.initialDelay, func() {
		b.fire(ctx)
		b.scheduleNext(ctx)
	})
}

func (b *ActionTemplateBase) scheduleNext(ctx TriggerContext) {
	if b.interval > 0 {
		b.cancel = b.clock.AfterFunc(b.interval, func() {
			b.fire(ctx)
			b.scheduleNext(ctx)
		})
	}
}

// Disarm cancels any pending delay/interval timer (spec §4.4
// on_alarm_off); in-flight action instances complete naturally.
func (b *ActionTemplateBase) Disarm() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}
