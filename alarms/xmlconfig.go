package alarms

import (
	"bytes"
	"encoding/xml"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/campbell-alarms/engine/expr"
	internalerrors "github.com/campbell-alarms/engine/internal/errors"
)

// XML schema (spec §6 "Configuration XML"). Root alarms, children
// alarm+, EmailProfiles, optional log.

type alarmsDocument struct {
	XMLName  xml.Name         `xml:"alarms"`
	Alarms   []alarmXML       `xml:"alarm"`
	Profiles emailProfilesXML `xml:"EmailProfiles"`
	Log      *logConfigXML    `xml:"log"`
}

type emailProfilesXML struct {
	Profiles []emailProfileXML `xml:"EmailProfile"`
}

type emailProfileXML struct {
	UniqueID   string `xml:"unique-id,attr"`
	Name       string `xml:"name,attr"`
	UseGateway bool   `xml:"use-gateway,attr"`

	SmtpServer   string `xml:"smtp-server"`
	SmtpUser     string `xml:"smtp-user"`
	SmtpPassword string `xml:"smtp-password"`
	From         string `xml:"from"`
	To           string `xml:"to"`
	Cc           string `xml:"cc,omitempty"`
	Bcc          string `xml:"bcc,omitempty"`
	ReplyTo      string `xml:"reply-to,omitempty"`
	GatewayURL   string `xml:"gateway-url,omitempty"`
}

// logConfigXML describes the optional alarm-logger block (spec §6,
// §4.7); either Size or Interval governs baling, never both.
type logConfigXML struct {
	Directory    string `xml:"directory,attr"`
	BaseFileName string `xml:"base-file-name,attr"`
	Count        int    `xml:"count,attr"`
	Size         int64  `xml:"size,attr,omitempty"`
	Interval     int64  `xml:"interval,attr,omitempty"`
	Enabled      bool   `xml:"enabled,attr"`
}

type alarmXML struct {
	XMLName xml.Name       `xml:"alarm"`
	Name    string         `xml:"name,attr"`
	ID      string         `xml:"id,attr,omitempty"`
	Latched bool           `xml:"latched,attr"`
	Units   string         `xml:"units,attr,omitempty"`
	Source  string         `xml:"source"`
	Conditions []conditionXML `xml:"conditions>condition"`
}

type conditionXML struct {
	Name    string      `xml:"name,attr"`
	Test    testXML     `xml:"test"`
	Actions []actionXML `xml:"actions>action"`
}

type testXML struct {
	Type     string `xml:"type,attr"`
	Interval int64  `xml:"interval,attr,omitempty"`
	OnExpr   string  `xml:"on-expr,omitempty"`
	OffExpr  string  `xml:"off-expr,omitempty"`
}

type actionXML struct {
	Type         string `xml:"type,attr"`
	InitialDelay int64  `xml:"initial-delay,attr,omitempty"`
	Interval     int64  `xml:"interval,attr,omitempty"`

	// email
	Profile     string          `xml:"profile,attr,omitempty"`
	Subject     string          `xml:"subject,attr,omitempty"`
	Body        string          `xml:"body,attr,omitempty"`
	Attachments []attachmentXML `xml:"attachment"`

	// forward
	ForwardExpression string `xml:"forward-expression,attr,omitempty"`
	DestURI           string `xml:"dest-uri,attr,omitempty"`

	// exec
	Args []string `xml:"arg"`
}

type attachmentXML struct {
	Name        string `xml:"name,attr"`
	ContentType string `xml:"content-type,attr,omitempty"`
	Path        string `xml:"path,attr,omitempty"`
	Inline      bool   `xml:"inline,attr,omitempty"`
}

// LogConfig mirrors the XML document's optional <log> element, so a
// caller can size the alarm-event logger before constructing a Manager
// (the logger is a NewManager dependency, so it must exist before
// Load can run) while still letting the configuration document be the
// source of truth (spec §6 "log settings... can also come from the
// XML log element").
type LogConfig struct {
	Directory    string
	BaseFileName string
	Count        int
	Size         int64
	Interval     int64
	Enabled      bool
}

// ParseLogConfig extracts the <log> element from an alarms document
// without registering any alarms or profiles, reporting ok=false if
// the document carries none.
func ParseLogConfig(r io.Reader) (cfg LogConfig, ok bool, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return LogConfig{}, false, err
	}
	var doc alarmsDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return LogConfig{}, false, internalerrors.ConfigMalformed("", err)
	}
	if doc.Log == nil {
		return LogConfig{}, false, nil
	}
	return LogConfig{
		Directory:    doc.Log.Directory,
		BaseFileName: doc.Log.BaseFileName,
		Count:        doc.Log.Count,
		Size:         doc.Log.Size,
		Interval:     doc.Log.Interval,
		Enabled:      doc.Log.Enabled,
	}, true, nil
}

// Load parses an alarms configuration document, registering every
// profile and alarm it can, and returns the accumulated list of
// errors encountered along the way (spec §7 ConfigError: "the manager
// loads what it can and reports the errors to the caller"). A
// malformed document (not well-formed XML at all) is the one fatal
// condition and is returned as the sole error.
func (m *Manager) Load(r io.Reader) []error {
	data, err := io.ReadAll(r)
	if err != nil {
		return []error{internalerrors.ConfigMalformed("", err)}
	}
	var doc alarmsDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return []error{internalerrors.ConfigMalformed("", err)}
	}

	for _, p := range doc.Profiles.Profiles {
		m.AddProfile(&EmailProfile{
			UniqueID: p.UniqueID, Name: p.Name, UseGateway: p.UseGateway,
			SmtpServer: p.SmtpServer, SmtpUser: p.SmtpUser, SmtpPassword: p.SmtpPassword,
			From: p.From, To: p.To, Cc: p.Cc, Bcc: p.Bcc, ReplyTo: p.ReplyTo, GatewayURL: p.GatewayURL,
		})
	}

	var errs []error
	for _, ax := range doc.Alarms {
		a, aerrs := m.buildAlarm(ax)
		errs = append(errs, aerrs...)
		if a != nil {
			m.AddAlarm(a)
		}
	}
	return errs
}

// Save serializes the manager's alarms and profiles back to an XML
// document (spec §4.5, §8 round-trip: write(read(doc)) == doc modulo
// whitespace and attribute ordering).
func (m *Manager) Save(w io.Writer) error {
	doc := alarmsDocument{}
	for _, a := range m.alarms {
		doc.Alarms = append(doc.Alarms, encodeAlarmXML(a))
	}
	for _, p := range m.profiles {
		doc.Profiles.Profiles = append(doc.Profiles.Profiles, emailProfileXML{
			UniqueID: p.UniqueID, Name: p.Name, UseGateway: p.UseGateway,
			SmtpServer: p.SmtpServer, SmtpUser: p.SmtpUser, SmtpPassword: p.SmtpPassword,
			From: p.From, To: p.To, Cc: p.Cc, Bcc: p.Bcc, ReplyTo: p.ReplyTo, GatewayURL: p.GatewayURL,
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeConfigMalformed, "failed to encode configuration", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (m *Manager) buildAlarm(doc alarmXML) (*Alarm, []error) {
	var errs []error

	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}

	sourceHandler, sourceReqs, err := m.factory.MakeExpression(doc.Source, expr.Defaults{})
	if err != nil {
		errs = append(errs, internalerrors.ConfigMalformed(doc.Name, err))
		return nil, errs
	}

	var conditions []*Condition
	for _, cx := range doc.Conditions {
		cond, cerrs := m.buildCondition(cx)
		errs = append(errs, cerrs...)
		if cond != nil {
			conditions = append(conditions, cond)
		}
	}

	a := NewAlarm(id, doc.Name, doc.Source, sourceHandler, sourceReqs, conditions, doc.Latched, doc.Units, m, m.clock, nil)

	for _, c := range conditions {
		if nd, ok := c.Test().(*TestNoData); ok {
			nd.onFire = func() { a.dispatch(nil) }
		}
	}

	return a, errs
}

func (m *Manager) buildCondition(cx conditionXML) (*Condition, []error) {
	test, errs := m.buildTest(cx.Test)
	if test == nil {
		return nil, errs
	}

	var actions []ActionTemplate
	for _, ax := range cx.Actions {
		act, err := m.buildAction(ax)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		actions = append(actions, act)
	}
	return NewCondition(cx.Name, test, actions), errs
}

func (m *Manager) buildTest(tx testXML) (Test, []error) {
	switch tx.Type {
	case "data":
		if tx.OnExpr == "" {
			return nil, []error{internalerrors.ConfigMissingChild("test", "on-expr")}
		}
		onHandler, _, err := m.factory.MakeExpression(tx.OnExpr, expr.Defaults{})
		if err != nil {
			return nil, []error{internalerrors.ConfigMalformed("on-expr", err)}
		}
		var offHandler *expr.ExpressionHandler
		if tx.OffExpr != "" {
			offHandler, _, err = m.factory.MakeExpression(tx.OffExpr, expr.Defaults{})
			if err != nil {
				return nil, []error{internalerrors.ConfigMalformed("off-expr", err)}
			}
		}
		return NewTestData(tx.OnExpr, onHandler, tx.OffExpr, offHandler), nil

	case "no-data":
		if tx.Interval <= 0 {
			return nil, []error{internalerrors.ConfigInvalidValue("test", "interval", "must be > 0")}
		}
		t, err := NewTestNoData(m.clock, time.Duration(tx.Interval)*time.Millisecond, nil)
		if err != nil {
			return nil, []error{err}
		}
		return t, nil

	default:
		return nil, []error{internalerrors.ConfigUnknownType("test", tx.Type)}
	}
}

func (m *Manager) buildAction(ax actionXML) (ActionTemplate, error) {
	delay := time.Duration(ax.InitialDelay) * time.Millisecond
	interval := time.Duration(ax.Interval) * time.Millisecond

	switch ax.Type {
	case "email":
		var atts []EmailAttachment
		for _, at := range ax.Attachments {
			atts = append(atts, EmailAttachment{Name: at.Name, ContentType: at.ContentType, Path: at.Path, Inline: at.Inline})
		}
		return NewEmailActionTemplate(m, m.clock, delay, interval, ax.Profile, ax.Subject, ax.Body, atts), nil

	case "forward":
		if ax.ForwardExpression == "" || ax.DestURI == "" {
			return nil, internalerrors.ConfigMissingChild("action", "forward-expression/dest-uri")
		}
		handler, _, err := m.factory.MakeExpression(ax.ForwardExpression, expr.Defaults{})
		if err != nil {
			return nil, internalerrors.ConfigMalformed("forward-expression", err)
		}
		return NewForwardActionTemplate(m, m.clock, delay, interval, ax.DestURI, ax.ForwardExpression, handler), nil

	case "exec":
		if len(ax.Args) == 0 {
			return nil, internalerrors.ConfigMissingChild("action", "arg")
		}
		return NewExecActionTemplate(m, m.clock, delay, interval, ax.Args, m.execLimiter, m.execAllowlist, m.execTimeout), nil

	default:
		return nil, internalerrors.ConfigUnknownType("action", ax.Type)
	}
}

// encodeAlarmXML serializes an alarm (including its conditions and
// action templates) back to the XML shape Load consumes.
func encodeAlarmXML(a *Alarm) alarmXML {
	doc := alarmXML{Name: a.name, ID: a.id, Latched: a.latched, Units: a.units, Source: a.sourceText}
	for _, c := range a.conditions {
		doc.Conditions = append(doc.Conditions, encodeConditionXML(c))
	}
	return doc
}

func encodeConditionXML(c *Condition) conditionXML {
	cx := conditionXML{Name: c.name, Test: encodeTestXML(c.test)}
	for _, act := range c.actions {
		cx.Actions = append(cx.Actions, encodeActionXML(act))
	}
	return cx
}

func encodeTestXML(t Test) testXML {
	switch v := t.(type) {
	case *TestData:
		return testXML{Type: "data", OnExpr: v.OnText(), OffExpr: v.OffText()}
	case *TestNoData:
		return testXML{Type: "no-data", Interval: v.Interval().Milliseconds()}
	default:
		return testXML{Type: t.Kind()}
	}
}

func encodeActionXML(act ActionTemplate) actionXML {
	ax := actionXML{
		Type:         act.Type(),
		InitialDelay: act.InitialDelay().Milliseconds(),
		Interval:     act.Interval().Milliseconds(),
	}
	switch v := act.(type) {
	case *EmailActionTemplate:
		ax.Profile = v.ProfileID()
		ax.Subject = v.SubjectTemplate()
		ax.Body = v.BodyTemplate()
		for _, at := range v.AttachmentTemplates() {
			ax.Attachments = append(ax.Attachments, attachmentXML{Name: at.Name, ContentType: at.ContentType, Path: at.Path, Inline: at.Inline})
		}
	case *ForwardActionTemplate:
		ax.ForwardExpression = v.ExpressionText()
		ax.DestURI = v.DestURI()
	case *ExecActionTemplate:
		ax.Args = v.ArgvTemplates()
	}
	return ax
}

// stripActionBindings clears every action-template-bearing field from
// doc's conditions, leaving the test configuration intact (spec §4.5
// clone_alarm: "strips action bindings and the id attribute").
func stripActionBindings(doc *alarmXML) {
	for i := range doc.Conditions {
		doc.Conditions[i].Actions = nil
	}
}
