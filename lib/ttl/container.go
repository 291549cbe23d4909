package ttl

import (
	"fmt"
	"github.com/ValentinKolb/comms/lib/util"
	"sort"
	"strings"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures a Container at construction
type Option func(*Container)

// WithClock replaces the time source of the container. Tests use it to
// advance time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Container) {
		if now != nil {
			c.now = now
		}
	}
}

// --------------------------------------------------------------------------
// Container
// --------------------------------------------------------------------------

// Container is an ordered mapping from field name to Object. New fields get
// the container's default expiry. Expired fields read as absent but stay in
// the container until they are removed, overwritten or purged.
//
// Thread-safety: All methods are thread-safe.
type Container struct {
	mu            sync.RWMutex
	names         []string
	objects       map[string]*Object
	defaultExpiry time.Duration
	lastModified  time.Time
	deadlines     *util.DeadlineHeap // names with a finite expiry
	now           func() time.Time
}

// New creates an empty container. A defaultExpiry of 0 means new fields never expire.
func New(defaultExpiry time.Duration, opts ...Option) *Container {
	c := &Container{
		objects:       make(map[string]*Object),
		defaultExpiry: defaultExpiry,
		deadlines:     util.NewDeadlineHeap(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastModified = c.now()
	return c
}

// --------------------------------------------------------------------------
// Internal helpers (caller holds the write lock)
// --------------------------------------------------------------------------

// put stores an object under name, keeping the insertion order of existing names
func (c *Container) put(name string, obj *Object) {
	if _, exists := c.objects[name]; !exists {
		c.names = append(c.names, name)
	}
	c.objects[name] = obj
	c.schedule(name, obj)
}

// schedule updates the deadline index for one object
func (c *Container) schedule(name string, obj *Object) {
	if at, ok := obj.Deadline(); ok {
		c.deadlines.Schedule(name, at)
	} else {
		c.deadlines.Cancel(name)
	}
}

// drop removes a name from the container
func (c *Container) drop(name string) bool {
	if _, exists := c.objects[name]; !exists {
		return false
	}
	delete(c.objects, name)
	c.deadlines.Cancel(name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
	return true
}

// sortedKeys returns the keys of m in sorted order
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Write operations
// --------------------------------------------------------------------------

// Set creates or overwrites a field. A new field gets the default expiry, an
// existing field keeps its expiry and only the value and timestamp are refreshed.
func (c *Container) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiry := c.defaultExpiry
	if existing, ok := c.objects[name]; ok {
		expiry = existing.Expiry
	}
	c.put(name, &Object{Value: value, Timestamp: now, Expiry: expiry})
	c.lastModified = now
}

// Remove deletes a field. It returns false if the field did not exist.
func (c *Container) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.drop(name) {
		return false
	}
	c.lastModified = c.now()
	return true
}

// ChangeDefaultExpiry sets the default expiry and applies it to every existing field
func (c *Container) ChangeDefaultExpiry(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defaultExpiry = d
	for name, obj := range c.objects {
		obj.Expiry = d
		c.schedule(name, obj)
	}
	c.lastModified = c.now()
}

// SetExpiry changes the expiry of a single field. It returns false if the field does not exist.
func (c *Container) SetExpiry(name string, d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[name]
	if !ok {
		return false
	}
	obj.Expiry = d
	c.schedule(name, obj)
	c.lastModified = c.now()
	return true
}

// MergeMap creates or replaces a field for every entry of m. All of them are
// stamped with the current time and get the default expiry. Keys are merged in sorted order.
func (c *Container) MergeMap(m map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, name := range sortedKeys(m) {
		c.put(name, &Object{Value: m[name], Timestamp: now, Expiry: c.defaultExpiry})
	}
	c.lastModified = now
}

// MergeMapWithTimestamps is like MergeMap but keeps the given timestamps
func (c *Container) MergeMapWithTimestamps(m map[string]Stamped) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range sortedKeys(m) {
		s := m[name]
		c.put(name, &Object{Value: s.Value, Timestamp: s.Timestamp, Expiry: c.defaultExpiry})
	}
	c.lastModified = c.now()
}

// MergeFrom copies every field of other into c. The donor's write timestamps
// are kept, the donor's expiry is not: merged fields get c's default expiry.
func (c *Container) MergeFrom(other *Container) {
	if other == nil || other == c {
		return
	}
	c.MergeMapWithTimestamps(other.ToMapWithTimestamps())
}

// PurgeExpired removes every field whose expiry has elapsed and returns their names
func (c *Container) PurgeExpired() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	due := c.deadlines.PopDue(c.now())
	for _, name := range due {
		c.drop(name)
	}
	if len(due) > 0 {
		c.lastModified = c.now()
	}
	return due
}

// --------------------------------------------------------------------------
// Read operations
// --------------------------------------------------------------------------

// Get returns the value of a field. Missing and expired fields are reported as absent.
func (c *Container) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[name]
	if !ok {
		return nil, false
	}
	return obj.Get(c.now())
}

// Object returns a copy of the record stored under name, expired or not
func (c *Container) Object(name string) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[name]
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// Contains reports whether a field is stored, regardless of its expiry
func (c *Container) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.objects[name]
	return ok
}

// Keys returns the field names in insertion order
func (c *Container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, len(c.names))
	copy(keys, c.names)
	return keys
}

// Range calls fn for every field in insertion order until fn returns false.
// Expired fields are passed with a nil value and valid set to false.
// fn must not modify the container.
func (c *Container) Range(fn func(name string, value any, valid bool) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	for _, name := range c.names {
		value, valid := c.objects[name].Get(now)
		if !fn(name, value, valid) {
			return
		}
	}
}

// Len returns the number of stored fields, including expired ones
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

// LastModified returns the time of the last structural mutation
func (c *Container) LastModified() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastModified
}

// DefaultExpiry returns the expiry given to new fields
func (c *Container) DefaultExpiry() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultExpiry
}

// ToMap projects the container to name -> value. Expired fields map to nil.
func (c *Container) ToMap() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	m := make(map[string]any, len(c.objects))
	for name, obj := range c.objects {
		m[name], _ = obj.Get(now)
	}
	return m
}

// ToMapWithTimestamps projects the container to name -> (value, timestamp).
// Expired fields have a nil value.
func (c *Container) ToMapWithTimestamps() map[string]Stamped {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	m := make(map[string]Stamped, len(c.objects))
	for name, obj := range c.objects {
		value, _ := obj.Get(now)
		m[name] = Stamped{Value: value, Timestamp: obj.Timestamp}
	}
	return m
}

// Clone returns an independent copy with the same fields, expiries, timestamps and clock
func (c *Container) Clone() *Container {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Container{
		names:         make([]string, len(c.names)),
		objects:       make(map[string]*Object, len(c.objects)),
		defaultExpiry: c.defaultExpiry,
		lastModified:  c.lastModified,
		deadlines:     util.NewDeadlineHeap(),
		now:           c.now,
	}
	copy(clone.names, c.names)
	for name, obj := range c.objects {
		cp := *obj
		clone.objects[name] = &cp
		clone.schedule(name, &cp)
	}
	return clone
}

func (c *Container) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Container: Last Update: %s\n", c.lastModified.Format(time.RFC3339Nano)))
	now := c.now()
	for _, name := range c.names {
		obj := c.objects[name]
		value, _ := obj.Get(now)
		sb.WriteString(fmt.Sprintf("  %s: %v (%s)\n", name, value, obj.Timestamp.Format(time.RFC3339Nano)))
	}
	return sb.String()
}
