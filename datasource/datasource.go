// Package datasource defines the producer interface the alarms engine
// consumes records through. The concrete data-source implementations
// are out of scope (spec §1); this package defines only the interface
// boundary and record plumbing the engine depends on.
package datasource

import (
	"time"

	"github.com/campbell-alarms/engine/expr"
)

// Record is an ordered tuple of named fields plus a timestamp,
// delivered in batches. The same record may arrive more than once; the
// engine suppresses duplicates queued via ignore_next_record (spec §3).
type Record struct {
	URI    string
	Fields map[string]expr.Value
	Stamp  time.Time
	// Table reports whether this record belongs to a whole-table
	// subscription; table-mode records skip per-record variable
	// binding in favor of feeding the whole record to the test (spec
	// §4.3).
	Table bool
}

// Sink receives asynchronous callbacks for one subscribed Request. All
// methods are invoked on the manager's single engine thread (spec §5);
// none may block.
type Sink interface {
	// OnSinkReady is called once a Request's subscription has been
	// established by the source.
	OnSinkReady(req expr.Request)
	// OnSinkFailure is called when a Request's subscription fails or is
	// rejected; the request stays registered so recovery is automatic
	// (spec §7 DataSourceError).
	OnSinkFailure(req expr.Request, err error)
	// OnSinkRecords delivers a batch of records (possibly empty) for a
	// Request.
	OnSinkRecords(req expr.Request, records []Record)
}

// Manager is the data-source abstraction the alarms Manager depends on:
// subscribing sinks to requests, setting values back (used by forward
// actions), and tearing down subscriptions on stop.
type Manager interface {
	// Subscribe registers sink to receive callbacks for req. Two
	// compatible requests (expr.Request.Compatible) share one
	// underlying subscription.
	Subscribe(sink Sink, req expr.Request) (cancel func(), err error)
	// StartSetValue writes back a value to uri (used by forward
	// actions); completion is reported asynchronously via onComplete.
	StartSetValue(uri string, value expr.Value, onComplete func(err error))
}
