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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/B1NARY-GR0UP/tso-core/types"
)

func newTestTSO(t *testing.T, cfg Config) *TSO {
	t.Helper()
	tso, err := Open(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tso.Close() })
	return tso
}

// S1 — clean commit.
func TestTxnCleanCommit(t *testing.T) {
	tso := newTestTSO(t, DefaultConfig)

	txn, err := tso.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.Write(1))
	require.NoError(t, txn.Write(2))

	tc, err := txn.Commit()
	require.NoError(t, err)
	require.Greater(t, tc, txn.StartTimestamp())

	got, ok := tso.commits.getLatestWrite(1)
	require.True(t, ok)
	require.Equal(t, tc, got)
	got, ok = tso.commits.getLatestWrite(2)
	require.True(t, ok)
	require.Equal(t, tc, got)
}

// S2 — write-write conflict: the later-started, earlier-committing
// transaction wins; the earlier-started transaction aborts.
func TestTxnWriteWriteConflict(t *testing.T) {
	tso := newTestTSO(t, DefaultConfig)

	early, err := tso.BeginTxn()
	require.NoError(t, err)
	late, err := tso.BeginTxn()
	require.NoError(t, err)

	require.NoError(t, late.Write(42))
	_, err = late.Commit()
	require.NoError(t, err)

	require.NoError(t, early.Write(42))
	_, err = early.Commit()
	require.ErrorIs(t, err, ErrConflictDetected)
}

// S4 — half/full abort sequence: a conflicting commit leaves a blocking
// half-abort entry until fullAbort is received, after which the cell is
// free again.
func TestTxnHalfAbortThenFullAbortUnblocks(t *testing.T) {
	tso := newTestTSO(t, DefaultConfig)

	// loser begins before baseline so its eventual commit attempt on h7
	// loses to baseline's later, higher Tc.
	loser, err := tso.BeginTxn()
	require.NoError(t, err)
	baseline, err := tso.BeginTxn()
	require.NoError(t, err)

	require.NoError(t, baseline.Write(7))
	tc0, err := baseline.Commit()
	require.NoError(t, err)

	require.NoError(t, loser.Write(7))
	_, err = loser.Commit()
	require.ErrorIs(t, err, ErrConflictDetected)

	// blocked begins after baseline's commit — by plain Tc-vs-Ts
	// comparison it would not conflict (tc0 < blocked's Ts), but loser's
	// half-abort entry on h7 blocks it conservatively until fullAbort.
	blocked, err := tso.BeginTxn()
	require.NoError(t, err)
	require.Greater(t, blocked.StartTimestamp(), tc0)
	require.NoError(t, blocked.Write(7))
	_, err = blocked.Commit()
	require.Error(t, err)

	require.NoError(t, tso.FullAbort(loser.StartTimestamp()))

	freed, err := tso.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, freed.Write(7))
	tc, err := freed.Commit()
	require.NoError(t, err)
	require.Greater(t, tc, tc0)
}

func TestTxnDiscardFullAbortsImmediately(t *testing.T) {
	tso := newTestTSO(t, DefaultConfig)

	txn, err := tso.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.Write(99))

	require.True(t, tso.uncmt.isUncommitted(txn.StartTimestamp()))

	require.NoError(t, txn.Discard())

	_, ok := tso.commits.getLatestWrite(99)
	require.False(t, ok)
	// a client that disconnects before ever calling Commit must not leave
	// its Ts live in the uncommitted set forever.
	require.False(t, tso.uncmt.isUncommitted(txn.StartTimestamp()))
}

// A Discard called before Commit was ever attempted — no half-abort entry
// exists yet — must still free the uncommitted slot, per spec.md §5's
// disconnect-before-commit scenario.
func TestTxnDiscardWithoutPriorCommitAttemptStillFreesUncommittedSlot(t *testing.T) {
	tso := newTestTSO(t, DefaultConfig)

	txn, err := tso.BeginTxn()
	require.NoError(t, err)
	require.True(t, tso.uncmt.isUncommitted(txn.StartTimestamp()))

	require.NoError(t, txn.Discard())
	require.False(t, tso.uncmt.isUncommitted(txn.StartTimestamp()))
}

func TestTxnCannotResolveTwice(t *testing.T) {
	tso := newTestTSO(t, DefaultConfig)

	txn, err := tso.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.Write(1))
	_, err = txn.Commit()
	require.NoError(t, err)

	_, err = txn.Commit()
	require.ErrorIs(t, err, ErrAlreadyResolved)

	require.NoError(t, txn.Discard())
}
