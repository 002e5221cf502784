package types

import (
	"time"
)

// Timestamp counts microseconds since the Unix epoch.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano() / int64(time.Microsecond))
}

// Time converts back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)*int64(time.Microsecond))
}

// Add returns t shifted by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d/time.Microsecond)
}

// Sub returns the duration t-u.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t-u) * time.Microsecond
}

func (t Timestamp) String() string {
	return t.Time().UTC().Format(time.RFC3339Nano)
}
