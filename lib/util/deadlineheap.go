// Package util
//
// This file provides a priority queue of deadlines that also supports access
// by key. It combines a binary min-heap ordered by deadline with a map from
// key to heap item, which gives:
//
//   - O(log n) for Schedule and Cancel
//   - O(k log n) for PopDue with k due keys
//
// The TTL container uses it to find fields whose expiry has elapsed without
// scanning every field.
//
// Note: This implementation is not thread-safe. Callers must synchronize.
//
// Example usage:
//
//	h := NewDeadlineHeap()
//	h.Schedule("a", time.Now().Add(time.Second))
//	h.Schedule("b", time.Now().Add(time.Minute))
//
//	// later
//	for _, key := range h.PopDue(time.Now()) {
//	    // key's deadline has passed
//	}
package util

import (
	"container/heap"
	"time"
)

// deadline is one scheduled key
type deadline struct {
	Key   string    // Unique identifier
	At    time.Time // When the key is due
	index int       // Index in the heap, maintained by heap package
}

// DeadlineHeap is a min-heap of deadlines with key based access
type DeadlineHeap struct {
	items []*deadline
	byKey map[string]*deadline
}

// NewDeadlineHeap creates an empty deadline heap
func NewDeadlineHeap() *DeadlineHeap {
	return &DeadlineHeap{
		items: make([]*deadline, 0),
		byKey: make(map[string]*deadline),
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (h *DeadlineHeap) Len() int { return len(h.items) }

func (h *DeadlineHeap) Less(i, j int) bool {
	return h.items[i].At.Before(h.items[j].At)
}

func (h *DeadlineHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *DeadlineHeap) Push(x interface{}) {
	d := x.(*deadline)
	d.index = len(h.items)
	h.items = append(h.items, d)
	h.byKey[d.Key] = d
}

func (h *DeadlineHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	d := old[n-1]
	old[n-1] = nil // Avoid memory leak
	d.index = -1
	h.items = old[:n-1]
	delete(h.byKey, d.Key)
	return d
}

// --------------------------------------------------------------------------
// Key based operations
// --------------------------------------------------------------------------

// Schedule adds a key or moves its deadline
func (h *DeadlineHeap) Schedule(key string, at time.Time) {
	if d, exists := h.byKey[key]; exists {
		d.At = at
		heap.Fix(h, d.index)
		return
	}
	heap.Push(h, &deadline{Key: key, At: at})
}

// Cancel removes a key. It returns the removed deadline and whether the key was scheduled.
func (h *DeadlineHeap) Cancel(key string) (time.Time, bool) {
	d, exists := h.byKey[key]
	if !exists {
		return time.Time{}, false
	}
	heap.Remove(h, d.index)
	return d.At, true
}

// PopDue removes and returns all keys whose deadline is strictly before now,
// earliest first
func (h *DeadlineHeap) PopDue(now time.Time) []string {
	var due []string
	for len(h.items) > 0 && h.items[0].At.Before(now) {
		d := heap.Pop(h).(*deadline)
		due = append(due, d.Key)
	}
	return due
}
