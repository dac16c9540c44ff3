package bus

// delayedItem pairs an envelope with a monotonic sequence number so that
// envelopes sharing a deliverAt come out in send order.
type delayedItem struct {
	env *Envelope
	seq uint64
}

// delayHeap is a min-heap on (deliverAt, seq).
type delayHeap []*delayedItem

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if h[i].env.DeliverAt != h[j].env.DeliverAt {
		return h[i].env.DeliverAt < h[j].env.DeliverAt
	}
	return h[i].seq < h[j].seq
}

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(*delayedItem)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
