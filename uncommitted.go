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
	"github.com/bits-and-blooms/bitset"

	"github.com/B1NARY-GR0UP/tso-core/types"
)

// uncommittedSet is component C: a fixed grid of buckets, each a dense
// bitmap over bucketSize consecutive timestamps, tracking exactly the set
// of start timestamps that have begun but not yet resolved.
type uncommittedSet struct {
	bucketNumber int
	bucketSize   uint64

	// buckets[i] covers [base+i*bucketSize, base+(i+1)*bucketSize).
	buckets []*bitset.BitSet
	base    uint64
}

// newUncommittedSet sizes bucketNumber/bucketSize as powers of two derived
// from maxCommits, per spec §4.3, and anchors bucket 0 at epochFirst.
func newUncommittedSet(maxCommits int, epochFirst types.Timestamp) *uncommittedSet {
	if maxCommits <= 0 {
		maxCommits = DefaultConfig.MaxCommits
	}
	bucketNumber := nextPowerOfTwo(maxCommits)
	bucketSize := nextPowerOfTwo(maxCommits) // same derivation: a square grid spanning bucketNumber*bucketSize timestamps

	buckets := make([]*bitset.BitSet, bucketNumber)
	for i := range buckets {
		buckets[i] = bitset.New(uint(bucketSize))
	}

	return &uncommittedSet{
		bucketNumber: bucketNumber,
		bucketSize:   uint64(bucketSize),
		buckets:      buckets,
		base:         uint64(epochFirst),
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// locate returns the bucket index and in-bucket bit offset for ts, and
// whether ts falls within the currently tracked range at all.
func (u *uncommittedSet) locate(ts types.Timestamp) (bucket int, offset uint, ok bool) {
	v := uint64(ts)
	if v < u.base {
		return 0, 0, false
	}
	span := uint64(u.bucketNumber) * u.bucketSize
	rel := v - u.base
	if rel >= span {
		return 0, 0, false
	}
	bucket = int(rel / u.bucketSize)
	offset = uint(rel % u.bucketSize)
	return bucket, offset, true
}

// start marks ts live.
func (u *uncommittedSet) start(ts types.Timestamp) {
	b, off, ok := u.locate(ts)
	if !ok {
		return
	}
	u.buckets[b].Set(off)
}

// abort clears ts (transaction aborted without ever being considered live,
// or resolved via the abort path).
func (u *uncommittedSet) abort(ts types.Timestamp) {
	u.clear(ts)
}

// committed clears ts (transaction resolved via the commit path).
func (u *uncommittedSet) committed(ts types.Timestamp) {
	u.clear(ts)
}

func (u *uncommittedSet) clear(ts types.Timestamp) {
	b, off, ok := u.locate(ts)
	if !ok {
		return
	}
	u.buckets[b].Clear(off)
}

// isUncommitted reports whether ts is currently live.
func (u *uncommittedSet) isUncommitted(ts types.Timestamp) bool {
	b, off, ok := u.locate(ts)
	if !ok {
		return false
	}
	return u.buckets[b].Test(off)
}

// raiseLowestBucket advances the tracked range in whole-bucket steps until
// bucket 0 is the one containing newBase, recycling (clearing, not reallocating — mirroring the teacher's
// memtable.reset() buffer-reuse style) any buckets that have fallen
// entirely below newBase and rotating them to the tail.
func (u *uncommittedSet) raiseLowestBucket(newBase types.Timestamp) {
	v := uint64(newBase)
	for v >= u.base+u.bucketSize {
		recycled := u.buckets[0]
		recycled.ClearAll()
		u.buckets = append(u.buckets[1:], recycled)
		u.base += u.bucketSize
	}
}
