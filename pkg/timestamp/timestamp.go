// Package timestamp is the unix-seconds time type used in events and filters.
package timestamp

import "time"

// T is a unix timestamp in seconds.
type T int64

// Now returns the current time as a T.
func Now() T { return T(time.Now().Unix()) }

// Time converts the timestamp to a time.Time.
func (t T) Time() time.Time { return time.Unix(int64(t), 0) }

// Int returns the timestamp as a plain int64.
func (t T) Int() int64 { return int64(t) }
