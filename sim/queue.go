// Implements the PacketQueue, which holds packets admitted to a node but not
// yet executing. Packets are enqueued on arrival.

package sim

import (
	"fmt"
	"strings"
)

// PacketQueue represents a FIFO queue of packets waiting for a free
// concurrency slot on their node.
type PacketQueue struct {
	queue []*Packet
}

// NewPacketQueue creates a queue holding the given packets in order.
func NewPacketQueue(packets ...*Packet) *PacketQueue {
	q := &PacketQueue{}
	q.queue = append(q.queue, packets...)
	return q
}

// Enqueue adds a packet to the back of the queue.
func (pq *PacketQueue) Enqueue(p *Packet) {
	pq.queue = append(pq.queue, p)
}

func (pq *PacketQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, val := range pq.queue {
		sb.WriteString(fmt.Sprint(val.ID))
		if i < len(pq.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// Len returns the number of packets in the queue. Safe on a nil queue.
func (pq *PacketQueue) Len() int {
	if pq == nil {
		return 0
	}
	return len(pq.queue)
}

// Peek returns the packet at the front of the queue without removing it.
// Returns nil if the queue is empty.
func (pq *PacketQueue) Peek() *Packet {
	if pq.Len() == 0 {
		return nil
	}
	return pq.queue[0]
}

// Items returns the queue contents for iteration.
// The returned slice is the queue's internal storage -- callers MUST NOT
// append to or reslice it.
func (pq *PacketQueue) Items() []*Packet {
	if pq == nil {
		return nil
	}
	return pq.queue
}

// Dequeue removes and returns the packet at the front of the queue.
// Returns nil if the queue is empty.
func (pq *PacketQueue) Dequeue() *Packet {
	if pq.Len() == 0 {
		return nil
	}
	p := pq.queue[0]
	pq.queue[0] = nil
	pq.queue = pq.queue[1:]
	return p
}

// Clone returns a queue with its own backing array. Packets are shared.
func (pq *PacketQueue) Clone() *PacketQueue {
	c := &PacketQueue{}
	if pq != nil {
		c.queue = make([]*Packet, len(pq.queue))
		copy(c.queue, pq.queue)
	}
	return c
}
