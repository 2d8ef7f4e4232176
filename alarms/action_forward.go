package alarms

import (
	"time"

	"github.com/campbell-alarms/engine/expr"
	"github.com/campbell-alarms/engine/internal/clock"
)

// ForwardActionTemplate evaluates a forward-expression against the
// alarm's last value and writes the result back to a destination URI
// (spec §4.4 "forward").
type ForwardActionTemplate struct {
	*ActionTemplateBase
	host ActionHost

	destURI   string
	exprText  string
	handler   *expr.ExpressionHandler
	valueVars []*expr.Variable

	evalErrorCount int
}

// NewForwardActionTemplate constructs a forward action template. handler
// is the compiled forward-expression; it is expected to reference the
// alarm's current value through the same "Value" variable convention
// TestData uses.
func NewForwardActionTemplate(host ActionHost, c clock.Clock, initialDelay, interval time.Duration, destURI, exprText string, handler *expr.ExpressionHandler) *ForwardActionTemplate {
	t := &ForwardActionTemplate{host: host, destURI: destURI, exprText: exprText, handler: handler}
	t.valueVars = findValueVariables(handler)
	t.ActionTemplateBase = NewActionTemplateBase(c, initialDelay, interval, t.perform)
	return t
}

func (t *ForwardActionTemplate) Type() string { return "forward" }

// Accessors below exist for config round-trip (manager.encodeAlarmXML).
func (t *ForwardActionTemplate) DestURI() string        { return t.destURI }
func (t *ForwardActionTemplate) ExpressionText() string { return t.exprText }

func (t *ForwardActionTemplate) OnAlarmOn(ctx TriggerContext) {
	ctx.ActionType = t.Type()
	t.Arm(ctx)
}

func (t *ForwardActionTemplate) OnAlarmOff() { t.Disarm() }

// EvalErrorCount reports how many times the forward-expression has
// failed to evaluate. The original action swallows eval exceptions
// entirely and does nothing further; this engine preserves that
// behavior towards the alarm (no instance is queued, no error is set
// on the alarm) but additionally counts and logs the failure so a
// misconfigured expression is still observable, rather than silently
// invisible (spec §9, DESIGN.md Open Question decision 1).
func (t *ForwardActionTemplate) EvalErrorCount() int { return t.evalErrorCount }

func (t *ForwardActionTemplate) perform(ctx TriggerContext) {
	for _, v := range t.valueVars {
		v.Assign(ctx.LastValue)
	}
	val, err := t.handler.Eval(ctx.FiredAt)
	if err != nil {
		t.evalErrorCount++
		t.host.RecordForwardEvalError(ctx.AlarmID)
		t.host.Log(LogEvent{
			Kind:      "action-complete",
			AlarmID:   ctx.AlarmID,
			AlarmName: ctx.AlarmName,
			Fields: map[string]string{
				"action-type": "forward",
				"outcome":     "forward_eval_error",
				"error":       err.Error(),
			},
		})
		return
	}

	inst := &forwardActionInstance{
		alarmID:          ctx.AlarmID,
		host:             t.host,
		destURI:          t.destURI,
		value:            val,
		ignoreNextRecord: ctx.IgnoreNextRecord,
	}
	t.host.AddAction(inst)
}

// forwardActionInstance is one firing of a ForwardActionTemplate.
type forwardActionInstance struct {
	alarmID          string
	host             ActionHost
	destURI          string
	value            expr.Value
	ignoreNextRecord func(uri string)

	lastError string
	outcome   string
}

func (i *forwardActionInstance) AlarmID() string    { return i.alarmID }
func (i *forwardActionInstance) ActionType() string { return "forward" }
func (i *forwardActionInstance) LastError() string  { return i.lastError }
func (i *forwardActionInstance) Outcome() string    { return i.outcome }

// Execute writes the evaluated value back through the data-source
// layer. On success it arranges for the write-back's own echoed
// record to be ignored by the owning alarm (spec §4.3
// ignore_next_record), so the forward does not retrigger itself.
func (i *forwardActionInstance) Execute(onComplete func()) {
	i.host.DataSources().StartSetValue(i.destURI, i.value, func(err error) {
		if err != nil {
			i.lastError = err.Error()
			i.outcome = "failed"
			onComplete()
			return
		}
		i.outcome = "success"
		if i.ignoreNextRecord != nil {
			i.ignoreNextRecord(i.destURI)
		}
		onComplete()
	})
}
