package gen

import "github.com/payops/autopilot/internal/model"

// RingBuffer holds the most recent transactions up to a fixed capacity.
// On overflow the oldest entry is dropped. Single producer (the
// generator); readers take a snapshot copy.
type RingBuffer struct {
	buf        []model.Transaction
	head       int
	size       int
	totalAdded int64
}

// NewRingBuffer creates a buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer{buf: make([]model.Transaction, capacity)}
}

// Push appends one transaction, evicting the oldest when full.
func (r *RingBuffer) Push(txn model.Transaction) {
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = txn
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
	r.totalAdded++
}

// Len returns the number of buffered transactions.
func (r *RingBuffer) Len() int {
	return r.size
}

// Cap returns the buffer capacity.
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// TotalAdded returns the count of all transactions ever pushed.
func (r *RingBuffer) TotalAdded() int64 {
	return r.totalAdded
}

// Snapshot returns the buffered transactions oldest-first.
func (r *RingBuffer) Snapshot() []model.Transaction {
	out := make([]model.Transaction, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
