package syncqueue

import "bioai-workspace-be/internal/entity"

// opHeap orders operations by priority desc, timestamp asc, id asc.
type opHeap []*entity.SyncOperation

func before(a, b *entity.SyncOperation) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Id < b.Id
}

func (h opHeap) Len() int           { return len(h) }
func (h opHeap) Less(i, j int) bool { return before(h[i], h[j]) }
func (h opHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *opHeap) Push(x any) {
	*h = append(*h, x.(*entity.SyncOperation))
}

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return op
}

func (h opHeap) indexOf(id string) int {
	for i, op := range h {
		if op.Id == id {
			return i
		}
	}
	return -1
}
