package postgresadapter

import "time"

// SystemClock reads UTC wall time at the microsecond precision timestamptz
// stores, so times read back from a row compare equal to the ones written.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
