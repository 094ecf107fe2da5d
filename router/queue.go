package router

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// ErrWithdrawn is returned to a Route call whose pending envelope was
// withdrawn or discarded on Close.
var ErrWithdrawn = types.NewError(types.ErrWithdrawn, "envelope withdrawn before dispatch")

// pendingItem 待派发的 envelope（已解析目标，状态 ROUTED）
type pendingItem struct {
	ctx        context.Context
	env        types.Envelope
	seq        uint64
	index      int
	enqueuedAt time.Time
	done       chan routeOutcome
}

type routeOutcome struct {
	result RouteResult
	err    error
}

// itemHeap orders by priority descending, then arrival order.
type itemHeap []*pendingItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	pi, pj := h[i].env.Priority(), h[j].env.Priority()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*pendingItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// pendingQueue 派发前的优先级队列
type pendingQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   itemHeap
	byID    map[string]*pendingItem
	seq     uint64
	closed  bool
	stopped bool
}

func newPendingQueue() *pendingQueue {
	q := &pendingQueue{byID: make(map[string]*pendingItem)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *pendingQueue) push(it *pendingItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return types.NewError(types.ErrWithdrawn, "router closed")
	}
	if _, dup := q.byID[it.env.ID()]; dup {
		return types.NewValidationError("envelope %s is already pending", it.env.ID())
	}
	q.seq++
	it.seq = q.seq
	heap.Push(&q.items, it)
	q.byID[it.env.ID()] = it
	q.cond.Signal()
	return nil
}

// pop blocks until an item is available or the queue stops.
func (q *pendingQueue) pop() (*pendingItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && !q.stopped {
		q.cond.Wait()
	}
	if q.closed || q.stopped {
		return nil, false
	}
	it := heap.Pop(&q.items).(*pendingItem)
	delete(q.byID, it.env.ID())
	return it, true
}

func (q *pendingQueue) remove(envelopeID string) (*pendingItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[envelopeID]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, envelopeID)
	return it, true
}

// stop wakes the workers without discarding pending items.
func (q *pendingQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// close refuses new items and returns everything still pending.
func (q *pendingQueue) close() []*pendingItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	left := make([]*pendingItem, 0, len(q.items))
	for len(q.items) > 0 {
		it := heap.Pop(&q.items).(*pendingItem)
		delete(q.byID, it.env.ID())
		left = append(left, it)
	}
	return left
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ids returns pending envelope ids in dispatch order.
func (q *pendingQueue) ids() []string {
	q.mu.Lock()
	sorted := make(itemHeap, len(q.items))
	copy(sorted, q.items)
	q.mu.Unlock()

	sort.Slice(sorted, sorted.Less)
	out := make([]string, len(sorted))
	for i, it := range sorted {
		out[i] = it.env.ID()
	}
	return out
}
