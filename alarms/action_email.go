package alarms

import (
	"time"

	"github.com/campbell-alarms/engine/internal/clock"
	internalerrors "github.com/campbell-alarms/engine/internal/errors"
)

// EmailActionTemplate renders and sends a profile-addressed email on
// trigger (spec §4.4 "email").
type EmailActionTemplate struct {
	*ActionTemplateBase
	host ActionHost

	profileID   string
	subjectTmpl string
	bodyTmpl    string
	attachments []EmailAttachment
}

// NewEmailActionTemplate constructs an email action template.
func NewEmailActionTemplate(host ActionHost, c clock.Clock, initialDelay, interval time.Duration, profileID, subjectTmpl, bodyTmpl string, attachments []EmailAttachment) *EmailActionTemplate {
	t := &EmailActionTemplate{host: host, profileID: profileID, subjectTmpl: subjectTmpl, bodyTmpl: bodyTmpl, attachments: attachments}
	t.ActionTemplateBase = NewActionTemplateBase(c, initialDelay, interval, t.perform)
	return t
}

func (t *EmailActionTemplate) Type() string { return "email" }

// Accessors below exist for config round-trip (manager.encodeAlarmXML)
// rather than runtime use.
func (t *EmailActionTemplate) ProfileID() string                { return t.profileID }
func (t *EmailActionTemplate) SubjectTemplate() string           { return t.subjectTmpl }
func (t *EmailActionTemplate) BodyTemplate() string              { return t.bodyTmpl }
func (t *EmailActionTemplate) AttachmentTemplates() []EmailAttachment { return t.attachments }

func (t *EmailActionTemplate) OnAlarmOn(ctx TriggerContext) {
	ctx.ActionType = t.Type()
	t.Arm(ctx)
}

func (t *EmailActionTemplate) OnAlarmOff() { t.Disarm() }

func (t *EmailActionTemplate) perform(ctx TriggerContext) {
	inst := &emailActionInstance{alarmID: ctx.AlarmID, host: t.host}

	profile, ok := t.host.Profile(t.profileID)
	if !ok || profile.To == "" {
		inst.fail(internalerrors.ActionNoDestination(t.profileID))
		t.host.AddAction(inst)
		return
	}

	inst.msg = EmailMessage{
		Profile:     profile,
		Subject:     ExpandPlaceholders(t.subjectTmpl, ctx),
		Body:        ExpandPlaceholders(t.bodyTmpl, ctx),
		Attachments: t.attachments,
	}
	t.host.AddAction(inst)
}

// emailActionInstance is one firing of an EmailActionTemplate.
type emailActionInstance struct {
	alarmID   string
	host      ActionHost
	msg       EmailMessage
	lastError string
	outcome   string
	failed    bool
}

func (i *emailActionInstance) fail(err error) {
	i.failed = true
	i.lastError = err.Error()
	if code, ok := internalerrors.Code(err); ok {
		i.outcome = string(code)
	} else {
		i.outcome = "error"
	}
}

func (i *emailActionInstance) AlarmID() string    { return i.alarmID }
func (i *emailActionInstance) ActionType() string { return "email" }
func (i *emailActionInstance) LastError() string  { return i.lastError }
func (i *emailActionInstance) Outcome() string    { return i.outcome }

func (i *emailActionInstance) Execute(onComplete func()) {
	if i.failed {
		onComplete()
		return
	}
	sender := i.host.EmailSender()
	sender.SendEmail(i.msg, func(outcome string, err error) {
		i.outcome = outcome
		if err != nil {
			i.lastError = err.Error()
		}
		onComplete()
	})
}
