package ttl

import (
	"fmt"
	"time"
)

// Object is the backing unit of a Container: one value with its write
// timestamp and an optional expiry. An Expiry of 0 means the value never expires.
type Object struct {
	Value     any
	Timestamp time.Time
	Expiry    time.Duration
}

// Expired reports whether the expiry has elapsed at the given instant.
// A value is still valid when exactly Expiry has passed.
func (o Object) Expired(now time.Time) bool {
	return o.Expiry != 0 && now.Sub(o.Timestamp) > o.Expiry
}

// Get returns the value if it is not expired at the given instant
func (o Object) Get(now time.Time) (any, bool) {
	if o.Expired(now) {
		return nil, false
	}
	return o.Value, true
}

// Deadline returns the instant after which the value is expired
func (o Object) Deadline() (time.Time, bool) {
	if o.Expiry == 0 {
		return time.Time{}, false
	}
	return o.Timestamp.Add(o.Expiry), true
}

func (o Object) String() string {
	return fmt.Sprintf("Data: %v | Timestamp: %s", o.Value, o.Timestamp.Format(time.RFC3339Nano))
}

// Stamped is the projection of an Object used by ToMapWithTimestamps and
// MergeMapWithTimestamps. Value is nil if the object was expired when projected.
type Stamped struct {
	Value     any
	Timestamp time.Time
}
