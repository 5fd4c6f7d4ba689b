// Copyright 2024 BINARY Members
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

// Package types holds the value types shared across the timestamp oracle,
// commit hash map, uncommitted set and journal.
package types

// Timestamp is a monotonic 64-bit marker. Zero means "never" and is never
// handed out by the oracle. Ts (start timestamp) and Tc (commit timestamp)
// are both Timestamp values drawn from the same counter; only calling
// context distinguishes them.
type Timestamp = uint64

// Cell is the 64-bit fingerprint of a (table, row, column family, column
// qualifier) tuple. The commit hash map is keyed by Cell alone; fingerprint
// collisions are accepted and resolved conservatively (a collision turns a
// commit into an abort, never the reverse).
type Cell = uint64

// WriteSet is the set of cells a transaction intends to write, supplied by
// the client at commit time.
type WriteSet []Cell

// TxnState is the logical state of a transaction as described by the TSO.
// States are never stored per-transaction; they are implied by which of B
// (commit hash map) and C (uncommitted set) hold an entry for a Ts.
type TxnState int

const (
	// Live means C holds Ts and neither a commit nor an abort record has
	// been journalled for it yet.
	Live TxnState = iota
	// Committed means B holds committed entries for Ts's write set and C
	// no longer holds Ts.
	Committed
	// HalfAborted means the TSO knows the transaction aborted but the
	// client has not confirmed via FullAbort; B still blocks conflicting
	// commits on the cells this transaction touched.
	HalfAborted
	// FullAborted means FullAbort purged every half-aborted entry for Ts.
	FullAborted
)
