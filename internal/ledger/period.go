package ledger

import "time"

// Period maps an instant to an idempotency window key. Periodic grant kinds
// are issued at most once per key per user. Injecting the policy keeps the
// window out of SQL date math and lets tests place events on either side of
// a boundary deterministically.
//
// A policy's windows must be no longer than PeriodLookback: grant history
// older than the lookback is never fetched, so keys spanning more than that
// (quarters, years) would let duplicate grants through.
type Period func(time.Time) string

// InSamePeriod reports whether two instants share an idempotency window
// under the policy. A prior grant blocks a new one only when this holds.
func InSamePeriod(p Period, a, b time.Time) bool {
	return p(a) == p(b)
}

// CalendarMonthUTC is the production policy: one window per calendar month,
// evaluated in UTC.
func CalendarMonthUTC(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodLookback bounds how far back stored entries need to be compared
// against the current period key. Any sane period policy fits inside it.
const PeriodLookback = 62 * 24 * time.Hour
