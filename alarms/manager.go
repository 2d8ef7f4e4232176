package alarms

import (
	"bytes"
	"encoding/xml"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/expr"
	"github.com/campbell-alarms/engine/internal/clock"
	internalerrors "github.com/campbell-alarms/engine/internal/errors"
	"github.com/campbell-alarms/engine/internal/execpolicy"
	"github.com/campbell-alarms/engine/internal/metrics"
	"github.com/campbell-alarms/engine/internal/ratelimit"
)

// AlarmLogWriter is the interface the manager writes rendered log
// fragments through; the concrete implementation (package alarmlog)
// owns the baled, crash-safe XML file (spec §4.7).
type AlarmLogWriter interface {
	WriteEvent(fragment []byte) error
}

// Manager owns the alarm list, profile map, action queue, logger,
// shared clock, and expression factory (spec §2, §4.5). It implements
// both AlarmHost and ActionHost: every alarm and action template
// reaches the rest of the engine only through these two narrow
// interfaces rather than a literal closed event-kind enum (see
// DESIGN.md for the tradeoff).
type Manager struct {
	alarms     []*Alarm
	alarmIndex map[string]int

	profiles     []*EmailProfile
	profileIndex map[string]string // uniqueID -> uniqueID, presence check only; index kept in profiles slice order

	factory *expr.TokenFactory
	clock   clock.Clock
	ds      datasource.Manager
	logger  AlarmLogWriter
	sender  EmailSender
	metrics *metrics.Metrics

	execActionsAllowed bool
	execLimiter        *ratelimit.RateLimiter
	execAllowlist      *execpolicy.Allowlist
	execTimeout        time.Duration

	actionQueue   []ActionInstance
	currentAction ActionInstance
	actionStarted time.Time
}

// NewManager constructs an empty Manager. logger and metrics may be
// nil (a nil logger drops log events; a nil metrics disables
// recording). execLimiter may be nil to disable exec-action
// throttling.
func NewManager(c clock.Clock, ds datasource.Manager, logger AlarmLogWriter, sender EmailSender, execActionsAllowed bool, execLimiter *ratelimit.RateLimiter, execTimeout time.Duration, m *metrics.Metrics) *Manager {
	return &Manager{
		alarmIndex:   map[string]int{},
		profileIndex: map[string]string{},
		factory:      expr.NewTokenFactory(),
		clock:        c,
		ds:           ds,
		logger:       logger,
		sender:       sender,
		metrics:      m,

		execActionsAllowed: execActionsAllowed,
		execLimiter:        execLimiter,
		execTimeout:        execTimeout,
	}
}

// Factory returns the manager's expression token factory, shared by
// every alarm, condition, and action template it builds.
func (m *Manager) Factory() *expr.TokenFactory { return m.factory }

// SetExecAllowlist restricts every exec action template the manager
// builds afterward to the given command allowlist; nil permits any
// command once exec actions are otherwise enabled.
func (m *Manager) SetExecAllowlist(a *execpolicy.Allowlist) { m.execAllowlist = a }

// --- alarm registry ---

// AddAlarm registers a (or replaces an existing) alarm.
func (m *Manager) AddAlarm(a *Alarm) {
	if idx, ok := m.alarmIndex[a.ID()]; ok {
		m.alarms[idx] = a
		return
	}
	m.alarmIndex[a.ID()] = len(m.alarms)
	m.alarms = append(m.alarms, a)
}

// RemoveAlarm stops the alarm, drops its queued/in-flight actions,
// and removes it from the registry (spec §4.5, §5 "remove_alarm").
func (m *Manager) RemoveAlarm(id string) {
	idx, ok := m.alarmIndex[id]
	if !ok {
		return
	}
	m.alarms[idx].Stop()
	m.StopActionsForAlarm(id)
	if m.currentAction != nil && m.currentAction.AlarmID() == id {
		m.currentAction = nil
		m.beginNextAction()
	}
	m.alarms = append(m.alarms[:idx], m.alarms[idx+1:]...)
	delete(m.alarmIndex, id)
	for i := idx; i < len(m.alarms); i++ {
		m.alarmIndex[m.alarms[i].ID()] = i
	}
}

// Alarm looks up an alarm by id.
func (m *Manager) Alarm(id string) (*Alarm, bool) {
	idx, ok := m.alarmIndex[id]
	if !ok {
		return nil, false
	}
	return m.alarms[idx], true
}

// Alarms returns every registered alarm in declaration order.
func (m *Manager) Alarms() []*Alarm { return m.alarms }

// StartAll starts every registered alarm (spec §3 lifecycle).
func (m *Manager) StartAll() {
	for _, a := range m.alarms {
		a.Start()
	}
}

// StopAll stops every alarm and drops the action queue (spec §3
// lifecycle).
func (m *Manager) StopAll() {
	for _, a := range m.alarms {
		a.Stop()
	}
	m.actionQueue = nil
	m.currentAction = nil
}

// --- profile registry ---

// AddProfile registers a (or replaces an existing) email profile.
func (m *Manager) AddProfile(p *EmailProfile) {
	for i, existing := range m.profiles {
		if existing.UniqueID == p.UniqueID {
			m.profiles[i] = p
			return
		}
	}
	m.profiles = append(m.profiles, p)
	m.profileIndex[p.UniqueID] = p.UniqueID
}

// Profile implements ActionHost: looks up a profile by unique id.
func (m *Manager) Profile(uniqueID string) (*EmailProfile, bool) {
	for _, p := range m.profiles {
		if p.UniqueID == uniqueID {
			return p, true
		}
	}
	return nil, false
}

// Profiles returns every registered profile in declaration order.
func (m *Manager) Profiles() []*EmailProfile { return m.profiles }

// --- ActionHost / AlarmHost ---

func (m *Manager) DataSources() datasource.Manager { return m.ds }
func (m *Manager) Clock() clock.Clock              { return m.clock }
func (m *Manager) ExecActionsAllowed() bool         { return m.execActionsAllowed }
func (m *Manager) EmailSender() EmailSender         { return m.sender }

// AddLog stamps event with the current time and forwards it to the
// logger (spec §4.5 add_log), and updates the metrics its kind
// implies.
func (m *Manager) AddLog(event LogEvent) {
	event.Stamp = m.clock.Now()
	if m.metrics != nil {
		switch event.Kind {
		case "alarm-triggered":
			m.metrics.RecordAlarmTriggered(event.AlarmName)
		case "alarm-acknowledged":
			m.metrics.RecordAlarmAcknowledged(event.AlarmName)
		}
	}
	if m.logger == nil {
		return
	}
	_ = m.logger.WriteEvent(renderLogEventXML(event))
}

// Log implements ActionHost by forwarding to AddLog.
func (m *Manager) Log(event LogEvent) { m.AddLog(event) }

// RecordEvalError implements AlarmHost.
func (m *Manager) RecordEvalError(alarmID string) {
	if m.metrics != nil {
		m.metrics.RecordEvalError(alarmID)
	}
}

// RecordForwardEvalError implements ActionHost.
func (m *Manager) RecordForwardEvalError(alarmID string) {
	if m.metrics != nil {
		m.metrics.RecordForwardEvalError(alarmID)
	}
}

// --- action queue (spec §4.5) ---

// AddAction appends instance to the single FIFO shared by every
// alarm; if nothing is currently running, it begins immediately.
func (m *Manager) AddAction(instance ActionInstance) {
	m.actionQueue = append(m.actionQueue, instance)
	m.reportQueueDepth()
	if m.currentAction == nil {
		m.beginNextAction()
	}
}

func (m *Manager) beginNextAction() {
	if len(m.actionQueue) == 0 {
		m.currentAction = nil
		m.reportQueueDepth()
		return
	}
	inst := m.actionQueue[0]
	m.actionQueue = m.actionQueue[1:]
	m.currentAction = inst
	m.actionStarted = m.clock.Now()
	m.reportQueueDepth()

	m.AddLog(LogEvent{
		Kind: "action-started", AlarmID: inst.AlarmID(),
		Fields: map[string]string{"action-type": inst.ActionType()},
	})
	inst.Execute(func() { m.onActionComplete(inst) })
}

func (m *Manager) onActionComplete(inst ActionInstance) {
	duration := m.clock.Now().Sub(m.actionStarted)
	m.AddLog(LogEvent{
		Kind: "action-complete", AlarmID: inst.AlarmID(),
		Fields: map[string]string{
			"action-type": inst.ActionType(),
			"outcome":     inst.Outcome(),
			"error":       inst.LastError(),
		},
	})
	if m.metrics != nil {
		m.metrics.RecordActionOutcome(inst.ActionType(), inst.Outcome(), duration)
	}
	if m.currentAction != inst {
		return
	}
	m.currentAction = nil
	m.beginNextAction()
}

func (m *Manager) reportQueueDepth() {
	if m.metrics == nil {
		return
	}
	depth := len(m.actionQueue)
	if m.currentAction != nil {
		depth++
	}
	m.metrics.SetActionQueueDepth(depth)
}

// StopActionsForAlarm drops every queued action belonging to
// alarmID; an in-flight action already dispatched to its concrete
// Execute completes naturally (spec §4.5).
func (m *Manager) StopActionsForAlarm(alarmID string) {
	filtered := m.actionQueue[:0]
	for _, inst := range m.actionQueue {
		if inst.AlarmID() != alarmID {
			filtered = append(filtered, inst)
		}
	}
	m.actionQueue = filtered
	m.reportQueueDepth()
}

// RemoveActionsForAlarm is StopActionsForAlarm, named per spec §4.5
// for the alarm-removal call site.
func (m *Manager) RemoveActionsForAlarm(alarmID string) { m.StopActionsForAlarm(alarmID) }

// PendingActionsForAlarm counts queued actions for alarmID plus one
// if the currently-running action belongs to it (spec §8 invariant).
func (m *Manager) PendingActionsForAlarm(alarmID string) int {
	count := 0
	for _, inst := range m.actionQueue {
		if inst.AlarmID() == alarmID {
			count++
		}
	}
	if m.currentAction != nil && m.currentAction.AlarmID() == alarmID {
		count++
	}
	return count
}

// --- clone_alarm (spec §4.5) ---

// CloneAlarm serializes an alarm, strips its action bindings and id
// attribute, and deserializes the result into a freshly-registered
// alarm with a new id and no action templates wired.
func (m *Manager) CloneAlarm(id string) (*Alarm, error) {
	src, ok := m.Alarm(id)
	if !ok {
		return nil, internalerrors.New(internalerrors.ErrCodeConfigMissingChild, "alarm not found").WithDetails("id", id)
	}

	doc := encodeAlarmXML(src)
	doc.ID = ""
	stripActionBindings(&doc)

	built, errs := m.buildAlarm(doc)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	built.id = uuid.NewString()
	m.AddAlarm(built)
	return built, nil
}

func renderLogEventXML(event LogEvent) []byte {
	var buf bytes.Buffer
	buf.WriteByte('<')
	buf.WriteString(event.Kind)
	buf.WriteString(` date="`)
	buf.WriteString(event.Stamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	buf.WriteByte('"')
	writeAttr(&buf, "alarm-id", event.AlarmID)
	writeAttr(&buf, "alarm-name", event.AlarmName)

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeAttr(&buf, k, event.Fields[k])
	}
	buf.WriteString("/>\r\n")
	return buf.Bytes()
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	xml.EscapeText(buf, []byte(value))
	buf.WriteByte('"')
}
