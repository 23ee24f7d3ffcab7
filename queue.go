package ane

// queue.go holds the per-station queue of frames waiting for the MAC

import (
	"container/heap"
)

// queuedFrame is a frame handed down by a traffic source, with the
// next hop and priority it was enqueued with
type queuedFrame struct {
	frame   *Frame
	nextHop Address
	pri     Priority
	seq     int
}

// frameHeap and its methods implement a min-priority heap on priority
// rank, ties broken by arrival order
type frameHeap []*queuedFrame

func (h frameHeap) Len() int { return len(h) }
func (h frameHeap) Less(i, j int) bool {
	if h[i].pri.rank() != h[j].pri.rank() {
		return h[i].pri.rank() < h[j].pri.rank()
	}
	return h[i].seq < h[j].seq
}
func (h frameHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frameHeap) Push(x any) {
	*h = append(*h, x.(*queuedFrame))
}

func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// frameQueue serves Expedited frames before Nominal before Bulk, first-come
// first-serve within a priority
type frameQueue struct {
	waiting frameHeap
	nxtSeq  int
}

func createFrameQueue() *frameQueue {
	fq := new(frameQueue)
	fq.waiting = make(frameHeap, 0)
	heap.Init(&fq.waiting)
	return fq
}

func (fq *frameQueue) push(frame *Frame, nextHop Address, pri Priority) {
	fq.nxtSeq += 1
	heap.Push(&fq.waiting, &queuedFrame{frame: frame, nextHop: nextHop, pri: pri, seq: fq.nxtSeq})
}

// pop removes the next frame to serve, nil if there is none
func (fq *frameQueue) pop() *queuedFrame {
	if fq.waiting.Len() == 0 {
		return nil
	}
	return heap.Pop(&fq.waiting).(*queuedFrame)
}

func (fq *frameQueue) Len() int {
	return fq.waiting.Len()
}
