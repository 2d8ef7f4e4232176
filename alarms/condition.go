package alarms

// Condition owns one test and an ordered list of action templates; it
// is "active" when its test currently evaluates true (spec §3, §4.3).
// Owned by exactly one alarm.
type Condition struct {
	name    string
	test    Test
	actions []ActionTemplate
}

// NewCondition constructs a Condition from an already-built test and
// action-template list.
func NewCondition(name string, test Test, actions []ActionTemplate) *Condition {
	return &Condition{name: name, test: test, actions: actions}
}

func (c *Condition) Name() string             { return c.name }
func (c *Condition) Test() Test               { return c.test }
func (c *Condition) Actions() []ActionTemplate { return c.actions }

// IsActive reports whether this condition's test currently evaluates
// true.
func (c *Condition) IsActive() bool { return c.test.IsTriggered() }

// OnAlarmOn fires every action template's OnAlarmOn (spec §4.3
// "transition on ... invokes each action template's on_alarm_on").
func (c *Condition) OnAlarmOn(ctx TriggerContext) {
	ctx.ConditionName = c.name
	for _, a := range c.actions {
		a.OnAlarmOn(ctx)
	}
}

// OnAlarmOff disarms every action template's pending timer (spec
// §4.3 "transition off ... cancels armed delay timers").
func (c *Condition) OnAlarmOff() {
	for _, a := range c.actions {
		a.OnAlarmOff()
	}
}

// FormatDesc expands the fixed %X placeholder vocabulary against ctx;
// see ExpandPlaceholders for the full list.
func (c *Condition) FormatDesc(template string, ctx TriggerContext) string {
	ctx.ConditionName = c.name
	return ExpandPlaceholders(template, ctx)
}
