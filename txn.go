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

	"github.com/B1NARY-GR0UP/tso-core/types"
)

var ErrAlreadyResolved = errors.New("tso: transaction already committed or aborted")

// Txn is a thin client handle bound to a start timestamp: it accumulates a
// write set of cell fingerprints and resolves exactly once, via Commit or
// Discard. It carries no row values — the TSO core never stores or returns
// them, only arbitrates writers.
type Txn struct {
	ts       types.Timestamp
	tso      *TSO
	write    types.WriteSet
	resolved bool
}

// Write records that this transaction intends to write cellHash. Safe to
// call multiple times for the same cell; duplicates are harmless since the
// commit map only cares about set membership at commit time.
func (t *Txn) Write(cellHash types.Cell) error {
	if t.resolved {
		return ErrAlreadyResolved
	}
	t.write = append(t.write, cellHash)
	return nil
}

// Commit runs the commit protocol for this transaction's accumulated write
// set and returns the assigned commit timestamp on success.
func (t *Txn) Commit() (types.Timestamp, error) {
	if t.resolved {
		return 0, ErrAlreadyResolved
	}
	t.resolved = true
	return t.tso.Commit(t.ts, t.write)
}

// Discard abandons the transaction without committing, reporting it to the
// TSO as a full abort so any half-abort entries for it are purged
// immediately rather than waiting on eviction.
func (t *Txn) Discard() error {
	if t.resolved {
		return nil
	}
	t.resolved = true
	return t.tso.FullAbort(t.ts)
}

// StartTimestamp returns the start timestamp this handle was begun with.
func (t *Txn) StartTimestamp() types.Timestamp {
	return t.ts
}
