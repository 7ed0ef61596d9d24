package queue

import "prisched/internal/task"

// entry pairs a task with its insertion sequence so equal priorities pop FIFO.
type entry struct {
	task task.Task
	seq  uint64
}

// entryHeap implements heap.Interface ordered by (Priority, seq).
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{} // drop the Run closure reference
	*h = old[0 : n-1]
	return e
}
