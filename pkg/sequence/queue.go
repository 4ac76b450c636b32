package sequence

import "container/heap"

type priorityItem[T any] struct {
	value    T
	priority int
	seq      uint64
}

// priorityHeap orders by descending priority; equal priorities dequeue in
// insertion order.
type priorityHeap[T any] struct {
	items []priorityItem[T]
}

func (h *priorityHeap[T]) Len() int { return len(h.items) }

func (h *priorityHeap[T]) Less(i, j int) bool {
	if h.items[i].priority != h.items[j].priority {
		return h.items[i].priority > h.items[j].priority
	}
	return h.items[i].seq < h.items[j].seq
}

func (h *priorityHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *priorityHeap[T]) Push(x any) {
	h.items = append(h.items, x.(priorityItem[T]))
}

func (h *priorityHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	var zero priorityItem[T]
	old[n-1] = zero
	h.items = old[:n-1]
	return item
}

// PriorityQueue is a max-priority queue. Higher priority values dequeue
// first; entries with equal priority dequeue in insertion order. Not safe
// for concurrent use.
type PriorityQueue[T any] struct {
	h    priorityHeap[T]
	next uint64
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

// Enqueue inserts a value with the given priority.
func (pq *PriorityQueue[T]) Enqueue(value T, priority int) {
	pq.next++
	heap.Push(&pq.h, priorityItem[T]{value: value, priority: priority, seq: pq.next})
}

// Dequeue removes and returns the highest-priority value.
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(&pq.h).(priorityItem[T])
	return item.value, true
}

// Peek returns the highest-priority value without removing it.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return pq.h.items[0].value, true
}

func (pq *PriorityQueue[T]) Len() int { return pq.h.Len() }

func (pq *PriorityQueue[T]) IsEmpty() bool { return pq.h.Len() == 0 }
