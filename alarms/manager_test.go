package alarms

import (
	"strings"
	"testing"
	"time"

	"github.com/campbell-alarms/engine/datasource/memory"
	"github.com/campbell-alarms/engine/internal/clock"
)

// fakeEmailSender is an EmailSender test double that completes
// synchronously with a configurable outcome.
type fakeEmailSender struct {
	sent    []EmailMessage
	outcome string
	err     error
}

func (s *fakeEmailSender) SendEmail(msg EmailMessage, onComplete func(outcome string, err error)) {
	s.sent = append(s.sent, msg)
	outcome := s.outcome
	if outcome == "" {
		outcome = "sent"
	}
	onComplete(outcome, s.err)
}

func newTestManager(c clock.Clock) (*Manager, *memory.Manager, *fakeEmailSender) {
	ds := memory.NewManager()
	sender := &fakeEmailSender{}
	m := NewManager(c, ds, nil, sender, true, nil, 0, nil)
	return m, ds, sender
}

func TestManagerActionQueueRunsFIFO(t *testing.T) {
	c := clock.NewFake(time.Now())
	m, _, sender := newTestManager(c)
	m.AddProfile(&EmailProfile{UniqueID: "p1", To: "ops@example.com"})

	cond := newDataCondition(t, "high", "Value > 100", "")
	tmpl := NewEmailActionTemplate(m, c, 0, 0, "p1", "Alarm %n", "body", nil)
	cond.actions = append(cond.actions, tmpl)

	cond.OnAlarmOn(TriggerContext{AlarmID: "a1", AlarmName: "First"})
	cond.OnAlarmOn(TriggerContext{AlarmID: "a1", AlarmName: "Second"})

	if len(sender.sent) != 2 {
		t.Fatalf("expected both queued emails to have been sent, got %d", len(sender.sent))
	}
	if sender.sent[0].Subject != "Alarm First" || sender.sent[1].Subject != "Alarm Second" {
		t.Fatalf("expected emails in enqueue order, got %q then %q", sender.sent[0].Subject, sender.sent[1].Subject)
	}
	if m.PendingActionsForAlarm("a1") != 0 {
		t.Fatalf("expected the queue to have drained")
	}
}

func TestManagerPendingActionsForAlarmCountsQueueAndCurrent(t *testing.T) {
	c := clock.NewFake(time.Now())
	m, _, _ := newTestManager(c)
	m.AddProfile(&EmailProfile{UniqueID: "p1", To: "ops@example.com"})
	// A sender that never completes lets the test inspect the queue
	// mid-flight: the first fired action stays "current" forever.
	m.sender = &blockingSender{}

	cond := newDataCondition(t, "high", "Value > 100", "")
	tmpl := NewEmailActionTemplate(m, c, 0, 0, "p1", "s", "b", nil)
	cond.actions = []ActionTemplate{tmpl}

	ctx := TriggerContext{AlarmID: "a1"}
	cond.OnAlarmOn(ctx)
	cond.OnAlarmOn(ctx)

	if got := m.PendingActionsForAlarm("a1"); got != 2 {
		t.Fatalf("expected 2 pending actions (1 running + 1 queued), got %d", got)
	}
}

// blockingSender records the email and never calls onComplete, letting
// tests observe the queue mid-flight.
type blockingSender struct {
	pending []func(outcome string, err error)
}

func (s *blockingSender) SendEmail(msg EmailMessage, onComplete func(outcome string, err error)) {
	s.pending = append(s.pending, onComplete)
}

func TestManagerRemoveAlarmStopsQueuedActions(t *testing.T) {
	c := clock.NewFake(time.Now())
	m, ds, _ := newTestManager(c)
	m.sender = &blockingSender{}
	m.AddProfile(&EmailProfile{UniqueID: "p1", To: "ops@example.com"})

	cond := newDataCondition(t, "high", "Value > 100", "")
	tmpl := NewEmailActionTemplate(m, c, 0, 0, "p1", "s", "b", nil)
	cond.actions = []ActionTemplate{tmpl}

	host := &fakeAlarmHost{ds: ds, c: c}
	a := newTestAlarm(t, host, "BattV", false, []*Condition{cond})
	m.AddAlarm(a)

	cond.OnAlarmOn(TriggerContext{AlarmID: "a1"})
	cond.OnAlarmOn(TriggerContext{AlarmID: "a1"})

	m.RemoveAlarm("a1")
	if m.PendingActionsForAlarm("a1") != 0 {
		t.Fatalf("expected queued actions for a removed alarm to be dropped")
	}
}

func TestManagerXMLRoundTrip(t *testing.T) {
	c := clock.NewFake(time.Now())
	m, _, _ := newTestManager(c)

	doc := `<?xml version="1.0"?>
<alarms>
  <EmailProfiles>
    <EmailProfile unique-id="p1" name="Ops" use-gateway="false">
      <smtp-server>smtp.example.com</smtp-server>
      <smtp-user>alerts</smtp-user>
      <smtp-password>secret</smtp-password>
      <from>alerts@example.com</from>
      <to>ops@example.com</to>
    </EmailProfile>
  </EmailProfiles>
  <alarm name="Battery Low" id="a1" latched="true" units="V">
    <source>BattV</source>
    <conditions>
      <condition name="low">
        <test type="data">
          <on-expr>Value &lt; 11</on-expr>
        </test>
        <actions>
          <action type="email" profile="p1" subject="Low battery" body="BattV is %v"></action>
        </actions>
      </condition>
    </conditions>
  </alarm>
</alarms>`

	errs := m.Load(strings.NewReader(doc))
	if len(errs) != 0 {
		t.Fatalf("unexpected load errors: %v", errs)
	}
	if _, ok := m.Profile("p1"); !ok {
		t.Fatalf("expected profile p1 to be registered")
	}
	a, ok := m.Alarm("a1")
	if !ok {
		t.Fatalf("expected alarm a1 to be registered")
	}
	if a.Name() != "Battery Low" || !a.Latched() {
		t.Fatalf("unexpected alarm fields: name=%q latched=%v", a.Name(), a.Latched())
	}
	if len(a.Conditions()) != 1 || len(a.Conditions()[0].Actions()) != 1 {
		t.Fatalf("expected one condition with one action")
	}

	var buf strings.Builder
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.Contains(buf.String(), "Battery Low") {
		t.Fatalf("expected saved document to contain the alarm name, got: %s", buf.String())
	}
}

func TestManagerLoadAccumulatesErrorsAndLoadsGoodAlarm(t *testing.T) {
	c := clock.NewFake(time.Now())
	m, _, _ := newTestManager(c)

	doc := `<alarms>
  <alarm name="Bad" id="bad">
    <source>BattV</source>
    <conditions>
      <condition name="c1">
        <test type="not-a-real-type"></test>
      </condition>
    </conditions>
  </alarm>
  <alarm name="Good" id="good">
    <source>BattV</source>
    <conditions>
      <condition name="c1">
        <test type="data"><on-expr>Value &gt; 1</on-expr></test>
      </condition>
    </conditions>
  </alarm>
</alarms>`

	errs := m.Load(strings.NewReader(doc))
	if len(errs) == 0 {
		t.Fatalf("expected at least one accumulated error for the unknown test type")
	}
	if _, ok := m.Alarm("good"); !ok {
		t.Fatalf("expected the well-formed alarm to still load despite the other alarm's error")
	}
}

func TestManagerCloneAlarmStripsActionsAndID(t *testing.T) {
	c := clock.NewFake(time.Now())
	m, _, _ := newTestManager(c)
	m.AddProfile(&EmailProfile{UniqueID: "p1", To: "ops@example.com"})

	doc := `<alarms>
  <alarm name="Battery Low" id="a1" latched="true" units="V">
    <source>BattV</source>
    <conditions>
      <condition name="low">
        <test type="data"><on-expr>Value &lt; 11</on-expr></test>
        <actions>
          <action type="email" profile="p1" subject="s" body="b"></action>
        </actions>
      </condition>
    </conditions>
  </alarm>
</alarms>`
	if errs := m.Load(strings.NewReader(doc)); len(errs) != 0 {
		t.Fatalf("load errors: %v", errs)
	}

	clone, err := m.CloneAlarm("a1")
	if err != nil {
		t.Fatalf("CloneAlarm: %v", err)
	}
	if clone.ID() == "a1" || clone.ID() == "" {
		t.Fatalf("expected the clone to have a fresh non-empty id, got %q", clone.ID())
	}
	if len(clone.Conditions()[0].Actions()) != 0 {
		t.Fatalf("expected clone_alarm to strip action bindings")
	}
}
