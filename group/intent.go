package group

import "sync"

// IntentState tracks one locally-originated proposal through its
// lifecycle (§4.4 "Intent queue").
type IntentState uint8

const (
	IntentPending IntentState = iota
	IntentCommitted
	IntentRejected
	IntentErrored
)

// IntentKind mirrors the commit-carried proposal kinds an intent can
// represent.
type IntentKind uint8

const (
	IntentSendMessage IntentKind = iota
	IntentAddMembers
	IntentRemoveMembers
	IntentUpdateMetadata
	IntentUpdatePolicy
	IntentKeyUpdate
)

// Intent is one locally-queued outbound operation, stamped with the
// epoch it was created against so a rejection can be told apart from a
// stale retry (§4.4 "an intent created at epoch N rejected because the
// group has since moved to epoch N+1 is rebased, not treated as a
// permanent failure").
type Intent struct {
	ID           uint64
	Kind         IntentKind
	CreatedEpoch uint64
	State        IntentState
	Payload      []byte
}

// IntentQueue is the ordered, per-group queue of locally-originated
// intents awaiting commitment.
type IntentQueue struct {
	mu      sync.Mutex
	nextID  uint64
	intents []*Intent
}

func NewIntentQueue() *IntentQueue {
	return &IntentQueue{}
}

// Enqueue adds a new pending intent stamped with currentEpoch.
func (q *IntentQueue) Enqueue(kind IntentKind, currentEpoch uint64, payload []byte) *Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	intent := &Intent{ID: q.nextID, Kind: kind, CreatedEpoch: currentEpoch, State: IntentPending, Payload: payload}
	q.intents = append(q.intents, intent)
	return intent
}

// Pending returns every intent still awaiting commitment.
func (q *IntentQueue) Pending() []*Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Intent
	for _, in := range q.intents {
		if in.State == IntentPending {
			out = append(out, in)
		}
	}
	return out
}

// MarkCommitted flags intent id as applied in a commit.
func (q *IntentQueue) MarkCommitted(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, in := range q.intents {
		if in.ID == id {
			in.State = IntentCommitted
			return
		}
	}
}

// RebaseOnReject handles an intent rejected because the group moved to a
// newer epoch than the intent was created against: the intent is
// re-stamped with the new epoch and left pending for the sender to
// retry, rather than marked permanently failed (§4.4).
func (q *IntentQueue) RebaseOnReject(id uint64, newEpoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, in := range q.intents {
		if in.ID != id {
			continue
		}
		if in.CreatedEpoch < newEpoch {
			in.CreatedEpoch = newEpoch
			in.State = IntentPending
			return
		}
		in.State = IntentErrored
		return
	}
}

// MarkRejected flags intent id as permanently rejected (e.g. the policy
// gate denied it, so a rebase would not help).
func (q *IntentQueue) MarkRejected(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, in := range q.intents {
		if in.ID == id {
			in.State = IntentRejected
			return
		}
	}
}
