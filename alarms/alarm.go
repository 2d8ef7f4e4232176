package alarms

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/expr"
	"github.com/campbell-alarms/engine/internal/clock"
)

const maxIgnoreEntries = 16

// AlarmHost is the interface an Alarm uses to reach its owning
// manager: the data-source layer for subscriptions, the shared clock,
// and the log sink.
type AlarmHost interface {
	DataSources() datasource.Manager
	Clock() clock.Clock
	AddLog(event LogEvent)
	// RecordEvalError reports a source-expression evaluation failure,
	// for the expression_eval_errors_total metric.
	RecordEvalError(alarmID string)
}

// AlarmClient is an optional UI-facing observer notified of new
// values and state transitions (spec §4.3 "notify the alarm client").
type AlarmClient interface {
	OnValueChanged(alarmID string, v expr.Value)
	OnStateChanged(alarmID string)
}

// Alarm owns a source expression, an ordered list of conditions, the
// triggered-condition pointer, and the ack/latch state; it consumes
// records from data sources (spec §3 "Alarm").
//
// Invariants maintained by this type (spec §3, asserted in tests):
//   - triggeredCondition == nil  =>  acknowledged == false
//   - acknowledged == true  =>  triggeredCondition != nil
//   - an acknowledged, non-latched alarm whose condition re-tests
//     false transitions to off atomically
//   - a latched, acknowledged alarm does not re-arm actions on a
//     re-asserted trigger until it first transitions off
type Alarm struct {
	id         string
	name       string
	sourceText string
	sourceExpr *expr.ExpressionHandler
	sourceReqs []expr.Request
	conditions []*Condition
	latched    bool
	units      string

	triggeredCondition *Condition
	acknowledged       bool
	lastValue          expr.Value
	lastError          string
	actionsEnabled     bool

	host   AlarmHost
	clock  clock.Clock
	client AlarmClient

	started     bool
	cancels     []func()
	ignoreQueue []string

	// UnknownPlaceholder is offered any %X code outside the fixed
	// vocabulary when rendering action payloads (SPEC_FULL.md §C).
	UnknownPlaceholder func(code byte) (string, bool)
}

// NewAlarm constructs an Alarm from an already-parsed source
// expression, requests, and conditions. actionsEnabled defaults to
// true.
func NewAlarm(id, name, sourceText string, sourceExpr *expr.ExpressionHandler, sourceReqs []expr.Request, conditions []*Condition, latched bool, units string, host AlarmHost, c clock.Clock, client AlarmClient) *Alarm {
	return &Alarm{
		id:             id,
		name:           name,
		sourceText:     sourceText,
		sourceExpr:     sourceExpr,
		sourceReqs:     sourceReqs,
		conditions:     conditions,
		latched:        latched,
		units:          units,
		actionsEnabled: true,
		host:           host,
		clock:          c,
		client:         client,
	}
}

func (a *Alarm) ID() string                     { return a.id }
func (a *Alarm) Name() string                   { return a.name }
func (a *Alarm) Latched() bool                  { return a.latched }
func (a *Alarm) Conditions() []*Condition       { return a.conditions }
func (a *Alarm) TriggeredCondition() *Condition { return a.triggeredCondition }
func (a *Alarm) Acknowledged() bool             { return a.acknowledged }
func (a *Alarm) LastValue() expr.Value          { return a.lastValue }
func (a *Alarm) LastError() string              { return a.lastError }
func (a *Alarm) ActionsEnabled() bool           { return a.actionsEnabled }
func (a *Alarm) SourceText() string             { return a.sourceText }
func (a *Alarm) SourceRequests() []expr.Request { return a.sourceReqs }

// EnableActions toggles whether condition triggers arm action
// templates; the alarm still transitions and logs normally when
// disabled, it simply withholds side effects.
func (a *Alarm) EnableActions(enabled bool) { a.actionsEnabled = enabled }

// AnnotateSourceExpression renders the source expression text with
// current variable values (spec §4.3).
func (a *Alarm) AnnotateSourceExpression() string { return a.sourceExpr.AnnotateSource() }

// Start opens data-source requests and arms no-data watchdogs (spec
// §4.3 "On start").
func (a *Alarm) Start() {
	if a.started {
		return
	}
	a.started = true

	a.sourceExpr.ResetState()
	a.triggeredCondition = nil
	a.acknowledged = false
	a.lastValue = expr.Value{}
	a.lastError = "waiting for requests"

	now := a.clock.Now()
	for _, c := range a.conditions {
		c.Test().OnStarted(now)
	}

	ds := a.host.DataSources()
	for _, req := range a.sourceReqs {
		cancel, err := ds.Subscribe(a, req)
		if err != nil {
			a.lastError = err.Error()
			continue
		}
		a.cancels = append(a.cancels, cancel)
	}
	a.notifyState()
}

// Stop cancels all requests, timers, and pending actions and clears
// per-alarm transient state (spec §4.3, §8 idempotence: a second call
// is a no-op).
func (a *Alarm) Stop() {
	if !a.started {
		return
	}
	a.started = false

	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil

	for _, c := range a.conditions {
		c.Test().OnStopped()
	}
	if a.triggeredCondition != nil {
		a.triggeredCondition.OnAlarmOff()
	}
	a.triggeredCondition = nil
	a.acknowledged = false
	a.ignoreQueue = nil
	a.notifyState()
}

// Acknowledge applies only when triggered and not yet acked (spec
// §4.3, §8 idempotence).
func (a *Alarm) Acknowledge(comments string) {
	if a.triggeredCondition == nil || a.acknowledged {
		return
	}
	a.acknowledged = true
	a.host.AddLog(LogEvent{
		Kind: "alarm-acknowledged", AlarmID: a.id, AlarmName: a.name,
		Fields: map[string]string{"condition": a.triggeredCondition.Name(), "comments": comments},
	})
	a.triggeredCondition.OnAlarmOff()
	if !a.triggeredCondition.IsActive() {
		a.transitionOff(a.clock.Now())
	}
	a.notifyState()
}

// IgnoreNextRecord appends uri (normalized to its table form) to the
// ignore backlog; it is consumed one-for-one when a matching record
// next arrives (spec §4.3). The backlog is bounded: the original's
// unbounded deque is replaced with a capped ring that drops the
// oldest pending entry rather than growing without limit if
// write-backs never arrive (spec §9 redesign note).
func (a *Alarm) IgnoreNextRecord(uri string) {
	norm := normalizeTableURI(uri)
	if len(a.ignoreQueue) >= maxIgnoreEntries {
		a.ignoreQueue = a.ignoreQueue[1:]
	}
	a.ignoreQueue = append(a.ignoreQueue, norm)
}

func (a *Alarm) consumeIgnore(uri string) bool {
	norm := normalizeTableURI(uri)
	for i, q := range a.ignoreQueue {
		if q == norm {
			a.ignoreQueue = append(a.ignoreQueue[:i], a.ignoreQueue[i+1:]...)
			return true
		}
	}
	return false
}

func normalizeTableURI(uri string) string {
	if i := strings.LastIndexByte(uri, '.'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// OnSinkReady implements datasource.Sink.
func (a *Alarm) OnSinkReady(req expr.Request) {}

// OnSinkFailure implements datasource.Sink (spec §7 DataSourceError:
// stored in last_error; the request stays registered).
func (a *Alarm) OnSinkFailure(req expr.Request, err error) {
	a.lastError = err.Error()
	a.notifyState()
}

// OnSinkRecords implements datasource.Sink.
func (a *Alarm) OnSinkRecords(req expr.Request, records []datasource.Record) {
	if len(records) == 0 {
		a.dispatch(nil)
		return
	}
	for i := range records {
		a.handleRecord(req, &records[i])
	}
}

func (a *Alarm) handleRecord(req expr.Request, rec *datasource.Record) {
	if rec.Table {
		if a.consumeIgnore(rec.URI) {
			return
		}
		a.dispatch(rec)
		return
	}

	for _, v := range a.sourceExpr.VariableForRequest(req) {
		if val, ok := rec.Fields[v.Name]; ok {
			v.Assign(val)
		}
	}
	if a.consumeIgnore(rec.URI) {
		return
	}

	val, err := a.sourceExpr.Eval(rec.Stamp)
	if err != nil {
		a.lastError = err.Error()
		a.host.RecordEvalError(a.id)
	} else {
		a.lastValue = val
		a.lastError = ""
		if a.client != nil {
			a.client.OnValueChanged(a.id, val)
		}
	}
	a.dispatch(rec)
}

// dispatch implements process_record (spec §4.3).
func (a *Alarm) dispatch(rec *datasource.Record) {
	now := a.clock.Now()
	if rec != nil {
		now = rec.Stamp
	}

	var triggeredNow []*Condition
	for _, c := range a.conditions {
		triggered, err := a.pollTest(c, rec, now)
		if err != nil {
			a.lastError = err.Error()
		}
		if triggered {
			triggeredNow = append(triggeredNow, c)
		}
	}

	a.transition(triggeredNow, now)

	// Step 5: re-check the now-current condition so an action whose
	// condition uses a constant off-expression clears within the same
	// batch (spec §4.3 step 5, "forward fires once per entry"). This
	// must be a pure read of the condition's last-evaluated state, not
	// another on_value/on_record call: the conditions were already
	// polled once above, and re-evaluating a stateful aggregate test a
	// second time per record would double-insert into its window. A
	// latched alarm never auto-clears here either, for the same reason
	// transition() above blocks it: only Acknowledge clears one.
	if !a.latched && a.triggeredCondition != nil && !a.triggeredCondition.IsActive() {
		a.transitionOff(now)
	}

	a.notifyState()
}

func (a *Alarm) pollTest(c *Condition, rec *datasource.Record, now time.Time) (bool, error) {
	if rec != nil && rec.Table {
		return c.Test().OnRecord(rec, now)
	}
	if rec != nil {
		return c.Test().OnValue(a.lastValue, now)
	}
	return c.Test().OnRecord(nil, now)
}

func (a *Alarm) transition(triggeredNow []*Condition, now time.Time) {
	if a.triggeredCondition != nil {
		// A latched alarm only ever clears through Acknowledge's own
		// explicit off-check (spec §8 scenario 2: ack stops further
		// firings and the alarm does not auto-clear on the off-condition,
		// acknowledged or not); no auto-transition runs through here.
		if a.latched {
			return
		}
		if !containsCondition(triggeredNow, a.triggeredCondition) {
			a.transitionOff(now)
			if len(triggeredNow) > 0 {
				a.transitionOn(triggeredNow[0], now)
			}
		}
		return
	}
	if len(triggeredNow) > 0 {
		a.transitionOn(triggeredNow[0], now)
	}
}

func containsCondition(list []*Condition, target *Condition) bool {
	for _, c := range list {
		if c == target {
			return true
		}
	}
	return false
}

func (a *Alarm) transitionOn(cond *Condition, now time.Time) {
	a.triggeredCondition = cond
	a.acknowledged = false

	entrance := cond.Test().FormatEntrance()
	exit := cond.Test().FormatExit()
	a.host.AddLog(LogEvent{
		Kind: "alarm-triggered", AlarmID: a.id, AlarmName: a.name,
		Fields: map[string]string{
			"condition": cond.Name(),
			"source":    a.sourceExpr.AnnotateSource(),
			"entrance":  entrance,
		},
	})

	if a.actionsEnabled {
		cond.OnAlarmOn(a.triggerContext(now, entrance, exit))
	}
	a.notifyState()
}

func (a *Alarm) transitionOff(now time.Time) {
	cond := a.triggeredCondition
	if cond == nil {
		return
	}
	exit := cond.Test().FormatExit()
	a.host.AddLog(LogEvent{
		Kind: "alarm-off", AlarmID: a.id, AlarmName: a.name,
		Fields: map[string]string{"condition": cond.Name(), "exit": exit},
	})
	cond.OnAlarmOff()
	a.triggeredCondition = nil
	a.acknowledged = false
	a.notifyState()
}

func (a *Alarm) triggerContext(now time.Time, entrance, exit string) TriggerContext {
	return TriggerContext{
		AlarmID:            a.id,
		AlarmName:           a.name,
		SourceAnnotated:     a.sourceExpr.AnnotateSource(),
		LastValue:           a.lastValue,
		Units:               a.units,
		Entrance:            entrance,
		Exit:                exit,
		FiredAt:             now,
		IgnoreNextRecord:    a.IgnoreNextRecord,
		UnknownPlaceholder:  a.UnknownPlaceholder,
	}
}

func (a *Alarm) notifyState() {
	if a.client != nil {
		a.client.OnStateChanged(a.id)
	}
}

// alarmSnapshot is the wire shape FormatJSON renders, recovered from
// original_source/'s Alarm::format_json (SPEC_FULL.md §C).
type alarmSnapshot struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Source             string  `json:"source"`
	Latched            bool    `json:"latched"`
	TriggeredCondition *string `json:"triggered_condition"`
	Acknowledged       bool    `json:"acknowledged"`
	LastValue          string  `json:"last_value,omitempty"`
	LastError          string  `json:"last_error,omitempty"`
	ActionsEnabled     bool    `json:"actions_enabled"`
	Units              string  `json:"units,omitempty"`
}

// FormatJSON renders the alarm's current state as a JSON snapshot for
// UI clients (spec §4.3, SPEC_FULL.md §C).
func (a *Alarm) FormatJSON() ([]byte, error) {
	snap := alarmSnapshot{
		ID:             a.id,
		Name:           a.name,
		Source:         a.sourceText,
		Latched:        a.latched,
		Acknowledged:   a.acknowledged,
		LastError:      a.lastError,
		ActionsEnabled: a.actionsEnabled,
		Units:          a.units,
	}
	if a.lastValue.Kind != 0 || !a.lastValue.Stamp.IsZero() {
		snap.LastValue = a.lastValue.String()
	}
	if a.triggeredCondition != nil {
		name := a.triggeredCondition.Name()
		snap.TriggeredCondition = &name
	}
	return json.Marshal(snap)
}
