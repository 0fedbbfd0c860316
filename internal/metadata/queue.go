package metadata

import "sync"

// DefaultCapacity bounds the queue when no capacity is given.
const DefaultCapacity = 256

// AppendResult describes what Append did with a record.
type AppendResult int

const (
	// Accepted means the record was stored at the tail.
	Accepted AppendResult = iota
	// Rejected means the record's timestamp was not greater than the tail's
	// and it was discarded.
	Rejected
	// AcceptedWithEviction means the record was stored after the oldest
	// pending record was evicted to respect the capacity.
	AcceptedWithEviction
)

func (r AppendResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case AcceptedWithEviction:
		return "accepted_with_eviction"
	default:
		return "unknown"
	}
}

// Queue stores pending records ordered by arrival. Every stored record has a
// strictly greater timestamp than the one before it.
//
// Append is called by the producer (the Listener) and Resolve by the transform
// stage; both are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	records  []Record
	capacity int
	obs      Observer
}

// NewQueue creates an empty queue holding at most capacity records.
// A capacity <= 0 selects DefaultCapacity. A nil observer is replaced by
// NopObserver.
func NewQueue(capacity int, obs Observer) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Queue{
		records:  make([]Record, 0, min(capacity, 64)),
		capacity: capacity,
		obs:      obs,
	}
}

// Append stores rec at the tail unless the queue is non-empty and
// rec.Timestamp is not strictly greater than the tail's timestamp, in which
// case rec is discarded. When the queue is full the head record is evicted.
func (q *Queue) Append(rec Record) AppendResult {
	q.mu.Lock()

	if n := len(q.records); n > 0 {
		last := q.records[n-1].Timestamp
		if rec.Timestamp <= last {
			q.mu.Unlock()
			q.obs.MetadataRejected(rec, last)
			return Rejected
		}
	}

	result := Accepted
	var evicted Record
	if len(q.records) >= q.capacity {
		evicted = q.records[0]
		q.dropHeadLocked(1)
		result = AcceptedWithEviction
	}

	q.records = append(q.records, rec)
	depth := len(q.records)
	q.mu.Unlock()

	if result == AcceptedWithEviction {
		q.obs.MetadataEvicted(evicted)
	}
	q.obs.MetadataAccepted(rec, depth)
	return result
}

// Resolve looks for the first record whose timestamp equals ts. On a match the
// record and every record before it are removed and the match is returned.
// Otherwise the queue is left untouched and NoMatch is returned.
func (q *Queue) Resolve(ts int64) Record {
	q.mu.Lock()

	idx := -1
	for i := range q.records {
		if q.records[i].Timestamp == ts {
			idx = i
			break
		}
	}

	if idx == -1 {
		q.mu.Unlock()
		q.obs.MetadataMissed(ts)
		return NoMatch
	}

	rec := q.records[idx]
	q.dropHeadLocked(idx + 1)
	q.mu.Unlock()

	q.obs.MetadataResolved(rec, idx)
	return rec
}

// dropHeadLocked removes the first n records in place so the backing array
// does not keep growing at the front.
func (q *Queue) dropHeadLocked(n int) {
	remaining := copy(q.records, q.records[n:])
	clear(q.records[remaining:])
	q.records = q.records[:remaining]
}

// Len returns the number of pending records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Last returns the most recently stored record still pending.
func (q *Queue) Last() (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return Record{}, false
	}
	return q.records[len(q.records)-1], true
}

// Snapshot returns a copy of the pending records in queue order.
func (q *Queue) Snapshot() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Record, len(q.records))
	copy(out, q.records)
	return out
}

// Capacity returns the maximum number of pending records.
func (q *Queue) Capacity() int {
	return q.capacity
}
