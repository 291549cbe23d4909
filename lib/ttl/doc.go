// Package ttl provides an ordered key/value container where every field
// carries its own write timestamp and an optional expiry.
//
// Semantics:
//
//   - A field whose expiry has elapsed reads as absent (Get returns false), but
//     the record stays in the container: Contains, Keys and Len still report it.
//     Only Remove, an overwrite or PurgeExpired take it out.
//   - New fields get the container's default expiry (0 = never expires).
//     Overwriting a field with Set keeps its expiry and refreshes the timestamp.
//   - ChangeDefaultExpiry applies the new default to every existing field.
//   - MergeMap stamps merged fields with the current time. MergeFrom keeps the
//     donor's timestamps but applies the receiver's default expiry.
//
// Example:
//
//	c := ttl.New(30 * time.Second)
//	c.Set("temperature", 21.5)
//
//	if v, ok := c.Get("temperature"); ok {
//	    fmt.Println(v)
//	}
//
// The time source can be replaced with WithClock, which tests use to advance
// time deterministically.
package ttl
