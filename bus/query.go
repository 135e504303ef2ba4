package bus

import (
	"time"

	"github.com/petal-labs/relay/core"
)

// Filter selects envelopes for a query. All set fields must match
// (conjunction). Every value is compared as opaque data; the file and
// memory backends compare decoded struct fields, and the SQLite backend
// binds each value as a query parameter. Filter values never become
// executable syntax.
type Filter struct {
	// Type restricts the scan to one partition. When empty, all
	// partitions are scanned in per-partition file order; results are
	// not globally time-sorted across partitions.
	Type string

	// Since keeps envelopes with Time >= Since (zero means unbounded).
	Since time.Time

	// Until keeps envelopes with Time <= Until (zero means unbounded).
	Until time.Time

	// Source keeps envelopes emitted by this producer.
	Source string

	// CorrelationID keeps envelopes on one causally-related chain.
	CorrelationID string

	// Limit caps the number of results (0 means no limit).
	Limit int
}

// matches reports whether env passes every set field of the filter.
// Type and Limit are handled by the scan loop, not here.
func (f Filter) matches(env core.Envelope) bool {
	if !f.Since.IsZero() && env.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && env.Time.After(f.Until) {
		return false
	}
	if f.Source != "" && env.Source != f.Source {
		return false
	}
	if f.CorrelationID != "" && env.CorrelationID != f.CorrelationID {
		return false
	}
	return true
}
