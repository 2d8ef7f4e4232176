package alarms

import (
	"testing"
	"time"

	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/internal/clock"
	"github.com/campbell-alarms/engine/internal/execpolicy"
)

// execTestHost is a minimal ActionHost double that only needs to
// record the instance built by ExecActionTemplate.perform.
type execTestHost struct {
	c       clock.Clock
	allowed bool
	queued  []ActionInstance
}

func (h *execTestHost) AddAction(instance ActionInstance) { h.queued = append(h.queued, instance) }
func (h *execTestHost) Clock() clock.Clock { return h.c }
func (h *execTestHost) DataSources() datasource.Manager     { return nil }
func (h *execTestHost) ExecActionsAllowed() bool             { return h.allowed }
func (h *execTestHost) Log(event LogEvent)                  {}
func (h *execTestHost) RecordForwardEvalError(alarmID string) {}
func (h *execTestHost) Profile(uniqueID string) (*EmailProfile, bool) { return nil, false }
func (h *execTestHost) EmailSender() EmailSender                      { return nil }

func TestExecActionTemplateAllowlistPermitsListedCommand(t *testing.T) {
	c := clock.NewFake(time.Now())
	host := &execTestHost{c: c, allowed: true}
	allow := execpolicy.Compile(execpolicy.Policy{Commands: []string{"logger"}})

	tmpl := NewExecActionTemplate(host, c, 0, 0, []string{"logger", "-t", "alarms"}, nil, allow, 0)
	tmpl.OnAlarmOn(TriggerContext{AlarmID: "a1"})

	if len(host.queued) != 1 {
		t.Fatalf("expected one queued instance, got %d", len(host.queued))
	}
	inst := host.queued[0].(*execActionInstance)
	if inst.failed {
		t.Fatalf("expected the allowlisted command to be accepted, got error: %s", inst.lastError)
	}
}

func TestExecActionTemplateAllowlistRejectsUnlistedCommand(t *testing.T) {
	c := clock.NewFake(time.Now())
	host := &execTestHost{c: c, allowed: true}
	allow := execpolicy.Compile(execpolicy.Policy{Commands: []string{"logger"}})

	tmpl := NewExecActionTemplate(host, c, 0, 0, []string{"rm", "-rf", "/"}, nil, allow, 0)
	tmpl.OnAlarmOn(TriggerContext{AlarmID: "a1"})

	inst := host.queued[0].(*execActionInstance)
	if !inst.failed {
		t.Fatalf("expected a command outside the allowlist to be rejected")
	}
}

func TestExecActionTemplateNilAllowlistPermitsAnyCommand(t *testing.T) {
	c := clock.NewFake(time.Now())
	host := &execTestHost{c: c, allowed: true}

	tmpl := NewExecActionTemplate(host, c, 0, 0, []string{"anything"}, nil, nil, 0)
	tmpl.OnAlarmOn(TriggerContext{AlarmID: "a1"})

	inst := host.queued[0].(*execActionInstance)
	if inst.failed {
		t.Fatalf("expected a nil allowlist to permit any command, got error: %s", inst.lastError)
	}
}

func TestExecActionTemplateDisabledTakesPrecedenceOverAllowlist(t *testing.T) {
	c := clock.NewFake(time.Now())
	host := &execTestHost{c: c, allowed: false}
	allow := execpolicy.Compile(execpolicy.Policy{Commands: []string{"logger"}})

	tmpl := NewExecActionTemplate(host, c, 0, 0, []string{"logger"}, nil, allow, 0)
	tmpl.OnAlarmOn(TriggerContext{AlarmID: "a1"})

	inst := host.queued[0].(*execActionInstance)
	if !inst.failed {
		t.Fatalf("expected exec_actions_allowed=false to reject regardless of allowlist")
	}
}
