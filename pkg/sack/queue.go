package sack

import "github.com/google/netstack/tcpip/header"

// Queue is a FIFO of candidate blocks. It is not safe for concurrent use.
type Queue struct {
	items []header.SACKBlock
}

// Push appends b.
func (q *Queue) Push(b header.SACKBlock) {
	q.items = append(q.items, b)
}

// Len returns the number of queued blocks.
func (q *Queue) Len() int { return len(q.items) }

// Drain removes every queued block and hands them to fn in arrival order.
func (q *Queue) Drain(fn func(header.SACKBlock)) int {
	items := q.items
	q.items = nil
	for _, b := range items {
		fn(b)
	}
	return len(items)
}
