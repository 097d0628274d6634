// Package clock supplies the time source injected into the ledger services so
// expiration checks stay deterministic under test.
package clock

import "time"

// Clock reports the current time. Now is non-decreasing across calls within a
// single operation.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Test helper.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time {
	return f.T
}
