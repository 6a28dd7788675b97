package session

import "sync"

// Sequence is the stale-write guard: every asynchronous operation that may
// touch the session store takes a monotonically increasing number, and its
// result may only be applied if nothing newer has committed in the meantime.
type Sequence struct {
	mu        sync.Mutex
	next      uint64
	committed uint64
}

// Begin issues a sequence number for an operation whose result will be
// applied later, such as a startup resolve.
func (q *Sequence) Begin() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	return q.next
}

// TryCommit reports whether the operation may apply its result, recording it
// as the newest committed operation when it can. A result issued before a
// later commit is discarded.
func (q *Sequence) TryCommit(op uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if op <= q.committed {
		return false
	}
	q.committed = op
	return true
}

// Supersede issues and commits a number in one step, for operations whose
// results are authoritative at completion time: explicit login and logout,
// remote sign-out, forced expiry.
func (q *Sequence) Supersede() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.committed = q.next
	return q.next
}
