package alarms

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/campbell-alarms/engine/internal/clock"
	internalerrors "github.com/campbell-alarms/engine/internal/errors"
	"github.com/campbell-alarms/engine/internal/execpolicy"
	"github.com/campbell-alarms/engine/internal/ratelimit"
)

var errExecRateLimited = errors.New("exec action rate limit exceeded")

// ExecActionTemplate launches an external process with argv expansion
// using the same %X vocabulary as email (spec §4.4 "exec"). Disabled
// unless the manager's exec_actions_allowed flag is true, and
// throttled through a shared rate limiter to bound how fast a
// misbehaving condition can spawn processes (SPEC_FULL.md §A.7).
type ExecActionTemplate struct {
	*ActionTemplateBase
	host ActionHost

	argvTemplates []string
	limiter       *ratelimit.RateLimiter
	allowlist     *execpolicy.Allowlist
	timeout       time.Duration
}

// NewExecActionTemplate constructs an exec action template. limiter may
// be nil to disable throttling, and allowlist may be nil to permit any
// command once exec actions are otherwise enabled.
func NewExecActionTemplate(host ActionHost, c clock.Clock, initialDelay, interval time.Duration, argvTemplates []string, limiter *ratelimit.RateLimiter, allowlist *execpolicy.Allowlist, timeout time.Duration) *ExecActionTemplate {
	t := &ExecActionTemplate{host: host, argvTemplates: argvTemplates, limiter: limiter, allowlist: allowlist, timeout: timeout}
	t.ActionTemplateBase = NewActionTemplateBase(c, initialDelay, interval, t.perform)
	return t
}

func (t *ExecActionTemplate) Type() string { return "exec" }

// ArgvTemplates exists for config round-trip (manager.encodeAlarmXML).
func (t *ExecActionTemplate) ArgvTemplates() []string { return t.argvTemplates }

func (t *ExecActionTemplate) OnAlarmOn(ctx TriggerContext) {
	ctx.ActionType = t.Type()
	t.Arm(ctx)
}

func (t *ExecActionTemplate) OnAlarmOff() { t.Disarm() }

func (t *ExecActionTemplate) perform(ctx TriggerContext) {
	inst := &execActionInstance{alarmID: ctx.AlarmID, timeout: t.timeout}

	if !t.host.ExecActionsAllowed() {
		inst.fail(internalerrors.ActionDisabled("exec"))
		t.host.AddAction(inst)
		return
	}
	if t.limiter != nil && !t.limiter.Allow() {
		inst.fail(internalerrors.ActionFailed("exec", errExecRateLimited))
		t.host.AddAction(inst)
		return
	}

	argv := make([]string, len(t.argvTemplates))
	for i, a := range t.argvTemplates {
		argv[i] = ExpandPlaceholders(a, ctx)
	}
	if len(argv) == 0 || !t.allowlist.Allow(argv[0]) {
		inst.fail(internalerrors.ActionDisabled("exec"))
		t.host.AddAction(inst)
		return
	}
	inst.argv = argv
	t.host.AddAction(inst)
}

// execActionInstance is one firing of an ExecActionTemplate.
type execActionInstance struct {
	alarmID string
	argv    []string
	timeout time.Duration

	lastError string
	outcome   string
	failed    bool
}

func (i *execActionInstance) fail(err error) {
	i.failed = true
	i.lastError = err.Error()
	if code, ok := internalerrors.Code(err); ok {
		i.outcome = string(code)
	} else {
		i.outcome = "error"
	}
}

func (i *execActionInstance) AlarmID() string    { return i.alarmID }
func (i *execActionInstance) ActionType() string { return "exec" }
func (i *execActionInstance) LastError() string  { return i.lastError }
func (i *execActionInstance) Outcome() string    { return i.outcome }

// Execute runs the process off the engine thread and reports
// completion via onComplete, honoring the no-blocking-in-callback rule
// (spec §5) by never running the subprocess synchronously.
func (i *execActionInstance) Execute(onComplete func()) {
	if i.failed || len(i.argv) == 0 {
		if !i.failed {
			i.fail(internalerrors.ActionFailed("exec", errors.New("empty command")))
		}
		onComplete()
		return
	}
	go func() {
		ctx := context.Background()
		if i.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, i.timeout)
			defer cancel()
		}
		cmd := exec.CommandContext(ctx, i.argv[0], i.argv[1:]...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			i.lastError = err.Error()
			if stderr.Len() > 0 {
				i.lastError += ": " + stderr.String()
			}
			i.outcome = "failed"
		} else {
			i.outcome = "success"
		}
		onComplete()
	}()
}
