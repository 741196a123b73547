package agents

import (
	"container/heap"
	"log"
	"sync"
	"time"

	"github.com/tas-support-backend/models"
)

// entryHeap orders waiting rooms by priority descending, then arrival.
type entryHeap []*models.QueueEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*models.QueueEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// WaitQueue holds rooms waiting for a human agent, one heap per tenant.
// In-memory by design: a restart drops the queue and customers re-escalate.
type WaitQueue struct {
	mu    sync.Mutex
	heaps map[string]*entryHeap
}

func NewWaitQueue() *WaitQueue {
	return &WaitQueue{heaps: make(map[string]*entryHeap)}
}

func (q *WaitQueue) tenantHeap(tenantID string) *entryHeap {
	h, ok := q.heaps[tenantID]
	if !ok {
		h = &entryHeap{}
		heap.Init(h)
		q.heaps[tenantID] = h
	}
	return h
}

// Enqueue adds a room, replacing any previous entry for the same room so
// repeated escalations cannot double-book it.
func (q *WaitQueue) Enqueue(entry models.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.tenantHeap(entry.TenantID)
	for i, e := range *h {
		if e.RoomID == entry.RoomID {
			heap.Remove(h, i)
			break
		}
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}
	heap.Push(h, &entry)
}

func (q *WaitQueue) DequeueNext(tenantID string) (*models.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.heaps[tenantID]
	if !ok || h.Len() == 0 {
		return nil, false
	}
	entry := heap.Pop(h).(*models.QueueEntry)
	return entry, true
}

// QueuePosition reports the 1-based position of a room and the tenant's total
// waiting count. Position 0 means the room is not queued.
func (q *WaitQueue) QueuePosition(tenantID string, roomID uint) (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.heaps[tenantID]
	if !ok {
		return 0, 0
	}
	entries := make([]*models.QueueEntry, len(*h))
	copy(entries, *h)
	// Heap order is partial; rank by the same comparison the pop uses.
	sorted := entryHeap(entries)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted.Less(j, j-1); j-- {
			sorted.Swap(j, j-1)
		}
	}
	for i, e := range sorted {
		if e.RoomID == roomID {
			return i + 1, len(sorted)
		}
	}
	return 0, len(sorted)
}

// SweepQueue drops entries older than the timeout and reports how many were
// removed.
func (q *WaitQueue) SweepQueue(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for tenantID, h := range q.heaps {
		kept := entryHeap{}
		for _, e := range *h {
			if e.EnqueuedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		heap.Init(&kept)
		*h = kept
		if h.Len() == 0 {
			delete(q.heaps, tenantID)
		}
	}
	if removed > 0 {
		log.Printf("[QUEUE] Swept %d expired queue entries", removed)
	}
	return removed
}
