// Copyright 2025 BINARY Members
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tso

import "github.com/B1NARY-GR0UP/tso-core/types"

// ringEntry is one slot of the commit map's FIFO-by-Tc eviction ring.
// Because Tc is assigned by the oracle in strictly increasing order and
// entries are appended to the ring in commit order, the ring is trivially
// ordered by Tc — no heap is needed to find the next eviction candidate.
type ringEntry struct {
	ts types.Timestamp
	tc types.Timestamp
	// cells is the write set committed at tc, needed to clear latest[]
	// when this slot is evicted.
	cells types.WriteSet
}

// commitMap is component B: a bounded cell→commitTs map plus the FIFO ring
// that drives eviction, generalized from the teacher's oracle.committedTxns
// (an unbounded slice scanned linearly by hasConflict) into an O(1) bounded
// structure with the same Tc-ascending ordering the teacher already relied
// on for correctness.
type commitMap struct {
	capacity int

	// latest holds committed entries only: cellHash -> Tc.
	latest map[types.Cell]types.Timestamp

	ring  []ringEntry
	head  int // next slot to evict
	tail  int // next slot to fill
	count int

	// blocking holds cells touched by a transaction that is currently
	// half-aborted, keyed back to the owning start timestamp. A half-abort
	// entry blocks every later conflict check on that cell unconditionally
	// — it has no commit timestamp to compare against, so it cannot be
	// cleared by the ordinary "prev > Ts" rule until setFullAborted runs.
	blocking    map[types.Cell]types.Timestamp
	halfAborted map[types.Timestamp]types.WriteSet
}

func newCommitMap(capacity int) *commitMap {
	if capacity <= 0 {
		capacity = DefaultConfig.MaxItems
	}
	return &commitMap{
		capacity:    capacity,
		latest:      make(map[types.Cell]types.Timestamp, capacity),
		ring:        make([]ringEntry, capacity),
		blocking:    make(map[types.Cell]types.Timestamp),
		halfAborted: make(map[types.Timestamp]types.WriteSet),
	}
}

// getLatestWrite returns the recorded commit timestamp for cellHash, or
// (0, false) if the cell has no committed entry. Half-abort blocking is
// not reflected here; callers doing conflict checks must use conflicts.
func (m *commitMap) getLatestWrite(cellHash types.Cell) (types.Timestamp, bool) {
	tc, ok := m.latest[cellHash]
	return tc, ok
}

// conflicts reports whether a transaction with start timestamp ts must
// abort because of cellHash: either a half-aborted transaction still
// blocks the cell (conservative, regardless of Ts order), or a real commit
// with Tc > ts exists.
func (m *commitMap) conflicts(cellHash types.Cell, ts types.Timestamp) bool {
	if _, blocked := m.blocking[cellHash]; blocked {
		return true
	}
	if prev, ok := m.latest[cellHash]; ok && prev > ts {
		return true
	}
	return false
}

// setCommittedTimestamp records ts/tc for every cell in writeSet, evicting
// the oldest-by-Tc ring entry if at capacity. It returns the evicted Tc, or
// (0, false) if nothing was evicted.
func (m *commitMap) setCommittedTimestamp(ts, tc types.Timestamp, writeSet types.WriteSet) (types.Timestamp, bool) {
	var evictedTc types.Timestamp
	var evicted bool

	if m.count == m.capacity {
		e := m.evictOldest()
		evictedTc, evicted = e.tc, true
	}

	cells := make(types.WriteSet, len(writeSet))
	copy(cells, writeSet)
	for _, h := range writeSet {
		m.latest[h] = tc
	}

	m.ring[m.tail] = ringEntry{ts: ts, tc: tc, cells: cells}
	m.tail = (m.tail + 1) % m.capacity
	m.count++

	return evictedTc, evicted
}

// evictOldest removes the ring's head entry (lowest Tc) and clears any
// latest[] mappings it still owns, then returns the removed entry. Caller
// must hold capacity == count.
func (m *commitMap) evictOldest() ringEntry {
	e := m.ring[m.head]
	m.ring[m.head] = ringEntry{}
	m.head = (m.head + 1) % m.capacity
	m.count--

	for _, h := range e.cells {
		// only clear if nothing newer has overwritten this cell since.
		if m.latest[h] == e.tc {
			delete(m.latest, h)
		}
	}
	return e
}

// setHalfAborted marks writeSet as blocked by ts's half-abort until
// setFullAborted clears it, per spec.md §4.2's "side-table Ts -> {cellHash}"
// option. A cell that is already blocked keeps its existing owner, so it is
// released by that owner's setFullAborted.
func (m *commitMap) setHalfAborted(ts types.Timestamp, writeSet types.WriteSet) {
	if len(writeSet) == 0 {
		return
	}
	cells := make(types.WriteSet, len(writeSet))
	copy(cells, writeSet)
	for _, h := range writeSet {
		if _, blocked := m.blocking[h]; !blocked {
			m.blocking[h] = ts
		}
	}
	m.halfAborted[ts] = cells
}

// setFullAborted purges every blocking entry owned by ts. Idempotent:
// calling it twice, or for a ts that was never half-aborted, is a no-op.
func (m *commitMap) setFullAborted(ts types.Timestamp) {
	cells, ok := m.halfAborted[ts]
	if !ok {
		return
	}
	for _, h := range cells {
		if owner, ok := m.blocking[h]; ok && owner == ts {
			delete(m.blocking, h)
		}
	}
	delete(m.halfAborted, ts)
}

// isHalfAborted reports whether ts currently owns a half-abort entry.
func (m *commitMap) isHalfAborted(ts types.Timestamp) bool {
	_, ok := m.halfAborted[ts]
	return ok
}

// committedRingContains reports whether ts still has a live ring entry —
// i.e. it committed and has not yet been evicted. A false result does not
// distinguish "never committed" from "committed but evicted long ago";
// callers needing the latter must consult recent history themselves.
func (m *commitMap) committedRingContains(ts types.Timestamp) bool {
	idx := m.head
	for i := 0; i < m.count; i++ {
		if m.ring[idx].ts == ts {
			return true
		}
		idx = (idx + 1) % m.capacity
	}
	return false
}

// purgeHalfAbortedBelow releases every half-abort entry whose owning Ts is
// at or below low: per spec.md §9, a half-abort blocks until fullAbort is
// called *or* the low watermark advances past its Ts, whichever comes
// first — a client that half-aborts and then vanishes without ever calling
// fullAbort must not block its cells forever.
func (m *commitMap) purgeHalfAbortedBelow(low types.Timestamp) {
	for ts, cells := range m.halfAborted {
		if ts > low {
			continue
		}
		for _, h := range cells {
			if owner, ok := m.blocking[h]; ok && owner == ts {
				delete(m.blocking, h)
			}
		}
		delete(m.halfAborted, ts)
	}
}
