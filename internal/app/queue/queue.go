// Package queue provides the session track queue and the recently played history.
package queue

import (
	"sync"

	"github.com/osa030/playdeck/internal/domain/track"
)

// Entry is one queue slot: either a reference awaiting resolution or a
// resolved track ready to play.
type Entry struct {
	Seq      uint64
	Ref      track.Reference
	Track    *track.Resolved // nil while resolution is pending
	Attempts int
	Failed   bool
}

// Ready reports whether the entry holds a playable track.
func (e Entry) Ready() bool {
	return e.Track != nil
}

// Label returns the track title when known and the raw reference otherwise.
func (e Entry) Label() string {
	if e.Track != nil && e.Track.Title != "" {
		return e.Track.Title
	}
	return e.Ref.Raw
}

// Queue is a FIFO of entries with O(1) operations at both ends.
// Sequence numbers are assigned under the queue lock, so queue order for
// appended entries always matches sequence order.
type Queue struct {
	mu      sync.RWMutex
	items   *ring[Entry]
	nextSeq uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: newRing[Entry](minRingCap)}
}

func (q *Queue) seqLocked() uint64 {
	q.nextSeq++
	return q.nextSeq
}

// Enqueue appends a pending placeholder for ref and returns its sequence number.
func (q *Queue) Enqueue(ref track.Reference) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.seqLocked()
	q.items.pushBack(Entry{Seq: seq, Ref: ref})
	return seq
}

// EnqueueResolved appends an already resolved track.
func (q *Queue) EnqueueResolved(ref track.Reference, t track.Resolved) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.seqLocked()
	q.items.pushBack(Entry{Seq: seq, Ref: ref, Track: &t})
	return seq
}

// PushFront places a resolved track at the head of the queue.
func (q *Queue) PushFront(ref track.Reference, t track.Resolved) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.seqLocked()
	q.items.pushFront(Entry{Seq: seq, Ref: ref, Track: &t})
	return seq
}

// PeekNext returns the head entry without removing it.
func (q *Queue) PeekNext() (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.items.len() == 0 {
		return Entry{}, false
	}
	return q.items.at(0), true
}

// DequeueNext pops the head entry whatever its state.
func (q *Queue) DequeueNext() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.popFront()
}

// PeekPage returns a copy of up to limit entries starting at offset.
func (q *Queue) PeekPage(offset, limit int) []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.items.slice(offset, limit)
}

func (q *Queue) indexLocked(seq uint64) int {
	for i := 0; i < q.items.len(); i++ {
		if q.items.at(i).Seq == seq {
			return i
		}
	}
	return -1
}

// Resolve fills the placeholder seq in place. Returns false if seq is gone.
func (q *Queue) Resolve(seq uint64, t track.Resolved) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(seq)
	if i < 0 {
		return false
	}
	e := q.items.at(i)
	e.Track = &t
	e.Failed = false
	q.items.set(i, e)
	return true
}

// MarkFailed flags seq as failed after attempts resolution attempts. The
// entry stays in place until removed.
func (q *Queue) MarkFailed(seq uint64, attempts int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(seq)
	if i < 0 {
		return false
	}
	e := q.items.at(i)
	e.Failed = true
	e.Attempts = attempts
	q.items.set(i, e)
	return true
}

// Remove deletes seq from the queue.
func (q *Queue) Remove(seq uint64) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(seq)
	if i < 0 {
		return Entry{}, false
	}
	e := q.items.at(i)
	q.items.removeAt(i)
	return e, true
}

// Expand replaces the placeholder seq with one pending entry per ref,
// keeping the placeholder's position. Returns the new sequence numbers,
// or nil if seq is gone. An empty refs slice just removes the placeholder.
func (q *Queue) Expand(seq uint64, refs []track.Reference) []uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(seq)
	if i < 0 {
		return nil
	}
	q.items.removeAt(i)

	seqs := make([]uint64, 0, len(refs))
	for j, ref := range refs {
		s := q.seqLocked()
		q.items.insertAt(i+j, Entry{Seq: s, Ref: ref})
		seqs = append(seqs, s)
	}
	return seqs
}

// Clear empties the queue and returns how many entries were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.len()
	q.items.clear()
	return n
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.items.len()
}

// Pending returns the number of entries still resolving.
func (q *Queue) Pending() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for i := 0; i < q.items.len(); i++ {
		if e := q.items.at(i); !e.Ready() && !e.Failed {
			n++
		}
	}
	return n
}

// Tracks returns the resolved tracks currently queued, in order.
func (q *Queue) Tracks() []track.Resolved {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]track.Resolved, 0, q.items.len())
	for i := 0; i < q.items.len(); i++ {
		if e := q.items.at(i); e.Track != nil {
			out = append(out, *e.Track)
		}
	}
	return out
}
