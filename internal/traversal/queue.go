package traversal

import "container/heap"

type entry struct {
	id  int
	err float32
}

// queue is a max-heap of nodes keyed by screen-space error.
type queue []entry

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].err > q[j].err }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

func (q *queue) push(id int, err float32) {
	heap.Push(q, entry{id: id, err: err})
}

func (q *queue) pop() entry {
	return heap.Pop(q).(entry)
}
