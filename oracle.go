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

import (
	"errors"
	"sync"

	"github.com/B1NARY-GR0UP/tso-core/types"
	"github.com/B1NARY-GR0UP/tso-core/wal"
)

// ErrOracleRangeFailure is returned by next() when the journal cannot
// durably record a fresh range. Per spec §7 this is fatal to the epoch.
var ErrOracleRangeFailure = errors.New("tso: oracle failed to reserve a durable timestamp range")

// oracle is component A: a monotone 64-bit counter durably allocated in
// ranges of rangeSize. Every timestamp the TSO hands out — Ts or Tc alike —
// comes from here, exactly as spec §4.1 requires.
type oracle struct {
	mu sync.Mutex

	epochFirst     types.Timestamp
	last           types.Timestamp
	rangeHighWater types.Timestamp
	rangeSize      types.Timestamp

	journal *wal.Journal
}

// newOracle constructs an oracle that resumes at resumeFrom+1 (the
// recovery case: resumeFrom is max(max Tc seen, persisted range
// high-water), per spec §4.5) with its durable high-water initialised to
// the same value so the very first next() call reserves a fresh range
// before handing out anything.
func newOracle(journal *wal.Journal, rangeSize types.Timestamp, resumeFrom types.Timestamp) *oracle {
	return &oracle{
		epochFirst:     resumeFrom + 1,
		last:           resumeFrom,
		rangeHighWater: resumeFrom,
		rangeSize:      rangeSize,
		journal:        journal,
	}
}

// first returns the timestamp at which this epoch began, used to seed the
// uncommitted set's bucket ranges (spec §4.1).
func (o *oracle) first() types.Timestamp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epochFirst
}

// get returns last without advancing it.
func (o *oracle) get() types.Timestamp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// next returns the next timestamp, post-incrementing the counter. When the
// next value would cross the current range's high-water mark, a new range
// is reserved and durably recorded before any timestamp beyond the old
// high-water is returned, per spec §4.1.
func (o *oracle) next() (types.Timestamp, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.last+1 > o.rangeHighWater {
		newHighWater := o.rangeHighWater + o.rangeSize
		done := o.journal.Append(wal.Encode(wal.Record{
			Kind:      wal.RecordRange,
			HighWater: newHighWater,
		}))
		if err := <-done; err != nil {
			return 0, ErrOracleRangeFailure
		}
		o.rangeHighWater = newHighWater
	}

	o.last++
	return o.last, nil
}
