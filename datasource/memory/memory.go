// Package memory provides an in-memory datasource.Manager test double,
// letting alarms-engine scenario tests feed record batches and observe
// forward-action write-backs deterministically (spec §8 end-to-end
// scenarios), without standing up a real data-source implementation
// (out of scope per spec §1).
package memory

import (
	"github.com/campbell-alarms/engine/datasource"
	"github.com/campbell-alarms/engine/expr"
)

type subscription struct {
	req  expr.Request
	sink datasource.Sink
}

// Manager is an in-memory datasource.Manager. NewManager returns a
// ready Manager; the zero value has nil maps, so StartSetValue and
// FailNextSetValue panic on it.
type Manager struct {
	subs       []*subscription
	setValues  map[string]expr.Value
	failSet    map[string]error
}

// NewManager constructs an empty in-memory Manager.
func NewManager() *Manager {
	return &Manager{setValues: map[string]expr.Value{}, failSet: map[string]error{}}
}

// Subscribe registers sink for req as a subscription of its own
// (compatible requests are not merged into one) and immediately calls
// OnSinkReady.
func (m *Manager) Subscribe(sink datasource.Sink, req expr.Request) (func(), error) {
	sub := &subscription{req: req, sink: sink}
	m.subs = append(m.subs, sub)
	sink.OnSinkReady(req)
	return func() { m.unsubscribe(sub) }, nil
}

func (m *Manager) unsubscribe(target *subscription) {
	out := m.subs[:0]
	for _, s := range m.subs {
		if s != target {
			out = append(out, s)
		}
	}
	m.subs = out
}

// StartSetValue records the written-back value and invokes onComplete
// synchronously (tests control timing explicitly via the fake clock,
// not via this call); FailNextSetValue can force the completion to
// report an error instead, for exercising forward-action error paths.
func (m *Manager) StartSetValue(uri string, value expr.Value, onComplete func(err error)) {
	if err, ok := m.failSet[uri]; ok {
		delete(m.failSet, uri)
		onComplete(err)
		return
	}
	m.setValues[uri] = value
	onComplete(nil)
}

// FailNextSetValue arranges for the next StartSetValue call against uri
// to report err instead of succeeding.
func (m *Manager) FailNextSetValue(uri string, err error) {
	m.failSet[uri] = err
}

// LastSetValue returns the last value written back to uri via
// StartSetValue, for test assertions.
func (m *Manager) LastSetValue(uri string) (expr.Value, bool) {
	v, ok := m.setValues[uri]
	return v, ok
}

// Deliver pushes a record batch to every sink subscribed to a request
// compatible with req.
func (m *Manager) Deliver(req expr.Request, records []datasource.Record) {
	for _, s := range m.subs {
		if s.req.Compatible(req) {
			s.sink.OnSinkRecords(req, records)
		}
	}
}

// Fail reports a subscription failure to every sink subscribed to a
// request compatible with req.
func (m *Manager) Fail(req expr.Request, err error) {
	for _, s := range m.subs {
		if s.req.Compatible(req) {
			s.sink.OnSinkFailure(req, err)
		}
	}
}
