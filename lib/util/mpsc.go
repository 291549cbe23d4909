// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// The comms transports use it as the outbound queue of every connection:
// any goroutine may Push without blocking, and the connection worker drains
// it once per tick with TryRecv.
//
// Features and Guarantees:
//
//   - Lock-Free: producers only use atomic operations
//   - Unbounded Size: limited only by available memory
//   - Thread-Safe writes: any number of goroutines may Push() concurrently
//   - Single Consumer: one goroutine consumes via TryRecv()
//   - FIFO per producer: items pushed by one goroutine are received in order.
//     Across concurrent producers the order is decided by which Push completes first.
package util

import (
	"runtime"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue backed by
// a linked list with a sentinel head. Producers append at the tail, the
// consumer pops directly from the head.
type LockFreeMPSC[T interface{}] struct {
	head      atomic.Pointer[node[T]]
	tail      atomic.Pointer[node[T]]
	closed    atomic.Bool
	discarded atomic.Bool
}

// NewLockFreeMPSC creates a new empty queue
func NewLockFreeMPSC[T interface{}]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already moved the tail, which is fine
				q.tail.CompareAndSwap(tailNode, newNode)
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin a little under low contention, yield under high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// TryRecv pops the oldest item without blocking. It returns false once the
// list is empty, so a loop over TryRecv drains everything pushed before it
// started.
//
// Thread-safety: only one goroutine may call TryRecv at a time.
func (q *LockFreeMPSC[T]) TryRecv() (*T, bool) {
	if q.discarded.Load() {
		return nil, false
	}

	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}

	value := next.value
	next.value = nil // next becomes the new sentinel
	q.head.Store(next)
	return value, true
}

// Close closes the queue, preventing further writes.
// Items already in the queue can still be received.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
}

// Discard closes the queue and throws away everything still queued.
// It may be called while the consumer is still draining, which then stops
// receiving items.
func (q *LockFreeMPSC[T]) Discard() {
	q.Close()
	q.discarded.Store(true)
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}
