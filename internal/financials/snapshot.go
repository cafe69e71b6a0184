package financials

import (
	"context"
	"time"

	"github.com/sells-group/ratio-cli/internal/model"
)

// SnapshotStatus tags the outcome of building a snapshot.
type SnapshotStatus int

const (
	// SnapshotOK carries at least one numeric value.
	SnapshotOK SnapshotStatus = iota
	// SnapshotMissing means no record exists in the search windows.
	SnapshotMissing
	// SnapshotMalformed means a record exists but nothing in it is numeric.
	SnapshotMalformed
)

func (s SnapshotStatus) String() string {
	switch s {
	case SnapshotOK:
		return "ok"
	case SnapshotMissing:
		return "missing"
	case SnapshotMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Snapshot is the sanitized view of one period for one ticker.
type Snapshot struct {
	Status    SnapshotStatus
	PeriodEnd time.Time
	Record    model.SanitizedRecord
	Reason    string
}

// Found reports whether a record was located, usable or not.
func (s Snapshot) Found() bool { return s.Status != SnapshotMissing }

// PriceFunc returns the adjusted close on or before date, or nil.
type PriceFunc func(ctx context.Context, ticker string, date time.Time) (*float64, error)

// Snapshot resolves, consolidates and sanitizes the record for ticker at
// target. When price is non-nil the looked-up close is injected as
// price_adj_close: at target for current snapshots, at the record's own
// period end for prior ones.
func (r *Resolver) Snapshot(ctx context.Context, ticker string, target time.Time, isPrior bool, price PriceFunc) (Snapshot, error) {
	rec, err := r.Resolve(ctx, ticker, target, isPrior)
	if err != nil {
		return Snapshot{}, err
	}
	if rec == nil {
		return Snapshot{Status: SnapshotMissing, Record: model.SanitizedRecord{}, Reason: "no record in search window"}, nil
	}

	cons := Consolidate(rec, target)
	if price != nil {
		day := model.Date(target)
		if isPrior {
			day = rec.PeriodEnd
		}
		p, err := price(ctx, ticker, day)
		if err != nil {
			return Snapshot{}, err
		}
		cons.PriceAdjClose = p
	}

	clean := Sanitize(cons.Fields())
	snap := Snapshot{Status: SnapshotOK, PeriodEnd: rec.PeriodEnd, Record: clean}
	if len(cons.Values) == 0 {
		snap.Status = SnapshotMalformed
		snap.Reason = "record has no numeric facts"
	}
	return snap, nil
}
