package matching

// Outcome classifies the result of a match request.
type Outcome int

const (
	// Queued means no partner was available and the requester now waits.
	Queued Outcome = iota
	// Paired means a partner was taken off the queue.
	Paired
)

func (o Outcome) String() string {
	if o == Paired {
		return "paired"
	}
	return "queued"
}

// Result is returned by RequestMatch.
type Result struct {
	Outcome   Outcome
	PartnerID string // set when Outcome == Paired
	Priority  bool   // requester was handled as a supporter
}

// SupporterFunc reports whether a user currently counts as a supporter.
type SupporterFunc func(userID string) bool

// RequestMatch runs the pairing policy for userID:
//
//  1. drop any stale queue entry for userID;
//  2. a supporter takes the oldest waiting supporter, if any;
//  3. otherwise anyone takes the oldest waiting user;
//  4. with nobody to pair, supporters wait at the front and everyone else
//     waits at the back.
//
// Supporter priority is a preference: a supporter falls back to a
// non-supporter rather than waiting. The caller guarantees userID is active
// and not in a session.
func (q *Queue) RequestMatch(userID string, isSupporter SupporterFunc) Result {
	q.Remove(userID)
	priority := isSupporter(userID)

	if priority {
		if partner, ok := q.trySupporterMatch(userID, isSupporter); ok {
			return Result{Outcome: Paired, PartnerID: partner, Priority: true}
		}
	}

	if partner, ok := q.tryAnyMatch(userID); ok {
		return Result{Outcome: Paired, PartnerID: partner, Priority: priority}
	}

	if priority {
		q.PushFront(userID)
	} else {
		q.PushBack(userID)
	}
	return Result{Outcome: Queued, Priority: priority}
}

// trySupporterMatch takes the oldest waiting supporter other than userID.
func (q *Queue) trySupporterMatch(userID string, isSupporter SupporterFunc) (string, bool) {
	for i, candidateID := range q.entries {
		if candidateID == userID || !isSupporter(candidateID) {
			continue
		}
		q.removeAt(i)
		return candidateID, true
	}
	return "", false
}

// tryAnyMatch takes the oldest waiting user other than userID. The queue is
// ordered by arrival (supporters aside), so the first entry is the fairest.
func (q *Queue) tryAnyMatch(userID string) (string, bool) {
	for i, candidateID := range q.entries {
		if candidateID == userID {
			continue
		}
		q.removeAt(i)
		return candidateID, true
	}
	return "", false
}
