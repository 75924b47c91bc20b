// Package matching holds the waiting queue for users who asked for a partner
// and the pairing policy that drains it.
package matching

// Queue is the ordered set of user IDs waiting for a partner. Position 0 is
// matched first. A user ID appears at most once.
//
// Queue is not safe for concurrent use; the engine serializes access.
type Queue struct {
	entries []string
	index   map[string]struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{index: make(map[string]struct{})}
}

// Contains reports whether userID is waiting.
func (q *Queue) Contains(userID string) bool {
	_, ok := q.index[userID]
	return ok
}

// PushBack appends userID behind everyone currently waiting. Existing
// entries for the same user are removed first.
func (q *Queue) PushBack(userID string) {
	q.Remove(userID)
	q.entries = append(q.entries, userID)
	q.index[userID] = struct{}{}
}

// PushFront inserts userID ahead of everyone currently waiting.
func (q *Queue) PushFront(userID string) {
	q.Remove(userID)
	q.entries = append(q.entries, "")
	copy(q.entries[1:], q.entries)
	q.entries[0] = userID
	q.index[userID] = struct{}{}
}

// Remove deletes userID from the queue. Returns false if it was not queued.
func (q *Queue) Remove(userID string) bool {
	if _, ok := q.index[userID]; !ok {
		return false
	}
	for i, id := range q.entries {
		if id == userID {
			q.removeAt(i)
			break
		}
	}
	return true
}

// Len returns the number of waiting users.
func (q *Queue) Len() int {
	return len(q.entries)
}

// All returns the waiting user IDs, next-to-match first.
func (q *Queue) All() []string {
	out := make([]string, len(q.entries))
	copy(out, q.entries)
	return out
}

// Sweep removes every entry for which keep returns false and returns the
// removed IDs in queue order.
func (q *Queue) Sweep(keep func(userID string) bool) []string {
	var removed []string
	kept := q.entries[:0]
	for _, id := range q.entries {
		if keep(id) {
			kept = append(kept, id)
			continue
		}
		delete(q.index, id)
		removed = append(removed, id)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = ""
	}
	q.entries = kept
	return removed
}

func (q *Queue) removeAt(i int) {
	delete(q.index, q.entries[i])
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = ""
	q.entries = q.entries[:len(q.entries)-1]
}
