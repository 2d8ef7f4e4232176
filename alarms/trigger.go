package alarms

import (
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/expr"
	"github.com/campbell-alarms/engine/internal/clock"
)

// LogEvent is a single alarm-log fragment (spec §3 "Log event", §4.7).
// The manager stamps Stamp and forwards it to the alarm logger, which
// renders it to XML; alarms and actions only describe the event's
// logical shape.
type LogEvent struct {
	Kind      string // alarm-triggered, alarm-off, alarm-acknowledged, action-started, action-complete
	Stamp     time.Time
	AlarmID   string
	AlarmName string
	Fields    map[string]string
}

// TriggerContext is the snapshot of alarm and condition state captured
// when a condition transitions on, used to render action payloads at
// fire time (spec §4.4 perform_action) without coupling action
// templates to the Alarm type directly.
type TriggerContext struct {
	AlarmID         string
	AlarmName       string
	ConditionName   string
	SourceAnnotated string
	LastValue       expr.Value
	Units           string
	Entrance        string
	Exit            string
	FiredAt         time.Time

	// ActionType is set by each action template's OnAlarmOn before the
	// context is armed and later rendered through ExpandPlaceholders, so
	// %a expands to the firing template's own type rather than a fixed
	// condition-level value.
	ActionType string

	// IgnoreNextRecord lets a forward action suppress the self-triggered
	// write-back record (spec §4.3 ignore_next_record).
	IgnoreNextRecord func(uri string)

	// UnknownPlaceholder resolves any %X placeholder outside the fixed
	// vocabulary, before falling back to passing it through verbatim
	// (SPEC_FULL.md §C).
	UnknownPlaceholder func(code byte) (string, bool)
}

// ActionHost is the interface action templates and instances use to
// reach the owning manager: enqueueing a built instance into the
// serial FIFO, reading the shared clock, reaching the data-source
// layer for write-backs, and checking whether exec actions are
// allowed. This is deliberately a narrow interface rather than the
// literal closed event-kind-enum spec §9's redesign note describes —
// see the design ledger for the tradeoff.
type ActionHost interface {
	AddAction(instance ActionInstance)
	Clock() clock.Clock
	DataSources() datasource.Manager
	ExecActionsAllowed() bool
	Log(event LogEvent)
	// RecordForwardEvalError reports a forward-expression evaluation
	// failure swallowed at perform_action time, for the
	// forward_eval_errors_total metric (spec §9 open question).
	RecordForwardEvalError(alarmID string)
	// Profile looks up an EmailProfile by its stable unique id.
	Profile(uniqueID string) (*EmailProfile, bool)
	// EmailSender returns the channel email action instances deliver
	// through.
	EmailSender() EmailSender
}

// EmailSender abstracts the outbound channel an email action instance
// uses to deliver a message, decoupling the alarms domain from the
// SMTP transport's connection state machine (spec §4.6).
type EmailSender interface {
	SendEmail(msg EmailMessage, onComplete func(outcome string, err error))
}

// EmailMessage is a fully-rendered outbound message, ready for the
// SMTP sender or HTTP gateway.
type EmailMessage struct {
	Profile     *EmailProfile
	Subject     string
	Body        string
	Attachments []EmailAttachment
}

// EmailAttachment is a single MIME part; either Content is supplied
// inline, or Path references a file the sender reads by reference
// (spec §4.4 "attachments supported by reference or by inline
// content/disposition").
type EmailAttachment struct {
	Name        string
	ContentType string
	Content     []byte
	Path        string
	Inline      bool
}

// ActionInstance is one firing of an action template (spec §3 "Action
// instance"): it holds its own rendered payload, runs to completion,
// and reports a last-error and outcome for logging.
type ActionInstance interface {
	AlarmID() string
	ActionType() string
	// Execute runs the action; onComplete must be called exactly once,
	// synchronously or asynchronously, when it finishes.
	Execute(onComplete func())
	LastError() string
	Outcome() string
}

// ActionTemplate parameterizes how an action instance is built at
// trigger time, and throttles invocations via initial-delay/interval
// timers (spec §4.4).
type ActionTemplate interface {
	Type() string
	InitialDelay() time.Duration
	Interval() time.Duration
	// OnAlarmOn arms (or immediately fires) the template using ctx as
	// the snapshot to build action instances from.
	OnAlarmOn(ctx TriggerContext)
	// OnAlarmOff disarms any pending delay/interval timer. In-flight
	// instances complete naturally; they are not cancelled.
	OnAlarmOff()
}
