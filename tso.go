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

// Package tso is a Transaction Status Oracle: it hands out monotonically
// increasing timestamps, decides whether a committing transaction
// conflicts with earlier commits on any written cell, and keeps a
// compact, recoverable view of recent commits and in-flight transactions
// so conflict checks stay O(1) in the common case.
package tso

import (
	"errors"
	"os"
	"sync"

	"github.com/B1NARY-GR0UP/tso-core/pkg/logger"
	"github.com/B1NARY-GR0UP/tso-core/pkg/watermark"
	"github.com/B1NARY-GR0UP/tso-core/types"
	"github.com/B1NARY-GR0UP/tso-core/wal"
)

var (
	// ErrConflictDetected is returned by Commit when an earlier commit
	// already wrote a cell in this transaction's write set.
	ErrConflictDetected = errors.New("tso: conflict detected")
	// ErrStaleTransaction is returned by Commit when the transaction's
	// start timestamp has fallen below the low watermark.
	ErrStaleTransaction = errors.New("tso: start timestamp is stale")
	// ErrJournalUnavailable is returned once the journal has failed and
	// the TSO has closed itself; a new epoch must be started.
	ErrJournalUnavailable = errors.New("tso: journal unavailable, epoch closed")
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("tso: closed")
)

// WatermarkSnapshot is the ambient, out-of-band broadcast payload clients
// use to decide whether a read must fall back to the external commit
// table (Ts <= Low) or can rely on the TSO's own in-memory view (Ts > Low).
// Field tags give it the same shape a thrift code generator would produce,
// so frugal can encode/decode it directly off the struct (see Marshal in
// watermark_snapshot.go).
type WatermarkSnapshot struct {
	Epoch           int64 `thrift:"Epoch,1" frugal:"1,default,i64"`
	Low             int64 `thrift:"Low,2" frugal:"2,default,i64"`
	OracleHighWater int64 `thrift:"OracleHighWater,3" frugal:"3,default,i64"`
}

// TSO is the single owning aggregate for one epoch: it mediates every
// mutation to the oracle, the commit map, the uncommitted set and the
// journal. No internal structure is exposed for direct cross-goroutine
// mutation, mirroring the teacher's DB.
type TSO struct {
	cfg   Config
	epoch uint64

	// writeLock linearizes the (oracle.next, commitMap.write) critical
	// section described in spec §4.4.3 — the single logical lock a
	// non-sharded implementation is permitted to use.
	writeLock sync.Mutex

	orc     *oracle
	commits *commitMap
	uncmt   *uncommittedSet
	journal *wal.Journal

	lowWatermark *watermark.WaterMark

	mu     sync.Mutex
	lowVal types.Timestamp
	fatal  error
	closed bool

	snapshots chan WatermarkSnapshot

	logger logger.Logger
}

// Open starts a new epoch in dir: it recovers the journal tail (restoring L
// from the latest low-watermark checkpoint, re-inserting one ring slot per
// COMMIT record, and resuming the oracle past both the last durable range
// high-water and the largest Tc seen), then begins accepting
// begin/commit/fullAbort calls. COMMIT records carry no write set, so the
// commit map's per-cell entries are not restored; half-abort entries are not
// restored either, and no Ts is marked live in the uncommitted set.
func Open(dir string, cfg Config) (*TSO, error) {
	_ = cfg.validate()

	path := wal.JoinPath(dir)
	existed := true
	if _, statErr := os.Stat(path); statErr != nil {
		if !os.IsNotExist(statErr) {
			return nil, statErr
		}
		existed = false
	}

	records, err := wal.Recover(path)
	if err != nil {
		return nil, err
	}

	var journal *wal.Journal
	if existed {
		journal, err = wal.Open(path, cfg.BatchSize, cfg.FlushTimeout)
	} else {
		journal, err = wal.Create(dir, cfg.BatchSize, cfg.FlushTimeout)
	}
	if err != nil {
		return nil, err
	}

	t := &TSO{
		cfg:          cfg,
		journal:      journal,
		commits:      newCommitMap(cfg.MaxItems),
		lowWatermark: watermark.New(),
		snapshots:    make(chan WatermarkSnapshot, 16),
		logger:       logger.GetLogger(),
	}

	var maxTc types.Timestamp
	var maxHighWater types.Timestamp
	live := make(map[types.Timestamp]struct{})

	for _, r := range records {
		switch r.Kind {
		case wal.RecordCommit:
			t.commits.setCommittedTimestamp(r.Ts, r.Tc, nil)
			if r.Tc > maxTc {
				maxTc = r.Tc
			}
			delete(live, r.Ts)
		case wal.RecordAbort:
			delete(live, r.Ts)
		case wal.RecordWatermark:
			if r.L > t.lowVal {
				t.lowVal = r.L
			}
		case wal.RecordRange:
			if r.HighWater > maxHighWater {
				maxHighWater = r.HighWater
			}
		}
	}

	resumeFrom := maxTc
	if maxHighWater > resumeFrom {
		resumeFrom = maxHighWater
	}

	t.orc = newOracle(journal, t.rangeSize(), resumeFrom)
	t.uncmt = newUncommittedSet(cfg.MaxCommits, t.orc.first())
	for ts := range live {
		t.uncmt.start(ts)
	}

	return t, nil
}

func (t *TSO) rangeSize() types.Timestamp {
	if t.cfg.RangeSize == 0 {
		return DefaultConfig.RangeSize
	}
	return t.cfg.RangeSize
}

// Close flushes and closes the journal and stops the low-watermark tracker.
func (t *TSO) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.lowWatermark.Stop()
	return t.journal.Shutdown()
}

// Err reports the fatal error that closed this TSO, if any.
func (t *TSO) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

func (t *TSO) fail(err error) error {
	t.mu.Lock()
	if t.fatal == nil {
		t.fatal = err
	}
	t.mu.Unlock()
	return err
}

// Low returns the current low watermark L.
func (t *TSO) Low() types.Timestamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lowVal
}

// Watermarks returns the channel WatermarkSnapshot values are broadcast on,
// refreshed on every low-watermark advance.
func (t *TSO) Watermarks() <-chan WatermarkSnapshot {
	return t.snapshots
}

// Begin allocates a start timestamp, marks it live, and returns it.
func (t *TSO) Begin() (types.Timestamp, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	ts, err := t.orc.next()
	if err != nil {
		return 0, t.fail(ErrJournalUnavailable)
	}
	t.uncmt.start(ts)
	return ts, nil
}

func (t *TSO) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.fatal != nil {
		return t.fatal
	}
	return nil
}

// Commit runs the full commit protocol for ts against writeSet: the
// stale-start check, the conflict check, and — on success — the write and
// durable journal path, per spec §4.4.2. It returns the assigned commit
// timestamp on success.
func (t *TSO) Commit(ts types.Timestamp, writeSet types.WriteSet) (types.Timestamp, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	if ts < t.Low() {
		return 0, t.abort(ts, writeSet, ErrStaleTransaction)
	}

	for _, h := range writeSet {
		if t.commits.conflicts(h, ts) {
			return 0, t.abort(ts, writeSet, ErrConflictDetected)
		}
	}

	tc, err := t.orc.next()
	if err != nil {
		return 0, t.fail(ErrJournalUnavailable)
	}

	done := t.journal.Append(wal.Encode(wal.Record{Kind: wal.RecordCommit, Ts: ts, Tc: tc}))
	if err := <-done; err != nil {
		return 0, t.fail(ErrJournalUnavailable)
	}

	evictedTc, evicted := t.commits.setCommittedTimestamp(ts, tc, writeSet)
	t.uncmt.committed(ts)

	if evicted {
		t.advanceWatermark(evictedTc)
	}

	return tc, nil
}

// abort runs the abort path shared by the stale-start and conflict checks:
// half-abort the transaction in the commit map, clear it from the
// uncommitted set, and journal the abort before surfacing reason.
func (t *TSO) abort(ts types.Timestamp, writeSet types.WriteSet, reason error) error {
	t.commits.setHalfAborted(ts, writeSet)
	t.uncmt.abort(ts)

	done := t.journal.Append(wal.Encode(wal.Record{Kind: wal.RecordAbort, Ts: ts}))
	if err := <-done; err != nil {
		return t.fail(ErrJournalUnavailable)
	}
	return reason
}

// FullAbort purges the half-abort entries for ts once the client has
// acknowledged the abort, and frees ts from the uncommitted set — covering
// both the ordinary half-abort cleanup and a client that disconnects after
// Begin without ever calling Commit, whose Ts must stop being live the
// moment FullAbort reports it rather than waiting on eviction. Idempotent;
// no journal record is required since a prior half-abort, if any, is
// already durable, and clearing a Ts that was never marked live is a no-op.
func (t *TSO) FullAbort(ts types.Timestamp) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	t.commits.setFullAborted(ts)
	t.uncmt.abort(ts)
	return nil
}

// StateOf derives ts's current types.TxnState from B and C directly,
// rather than from any state stored per-transaction: ts is Live while C
// still holds it, HalfAborted while B's blocking side table still owns it,
// Committed while B's eviction ring still carries its entry, and
// FullAborted otherwise. That last case is also what a ts returns once its
// commit has aged out of the ring via eviction, or one that was never
// begun at all — this accessor is a diagnostic view over B/C's current
// contents, not a durable per-transaction log.
func (t *TSO) StateOf(ts types.Timestamp) types.TxnState {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	if t.uncmt.isUncommitted(ts) {
		return types.Live
	}
	if t.commits.isHalfAborted(ts) {
		return types.HalfAborted
	}
	if t.commits.committedRingContains(ts) {
		return types.Committed
	}
	return types.FullAborted
}

// advanceWatermark is called whenever the commit map evicts an entry with
// commit timestamp evictedTc, still under writeLock: it begins tracking
// the eviction with the watermark tracker, journals a checkpoint, and only
// marks it done — advancing L — once that checkpoint is durable,
// satisfying spec §4.4.4/§6's "L advances only after all commits with
// Tc <= L have been durably journalled". Run inline rather than handed off
// to a goroutine: the critical section already serializes commits via
// writeLock, so there is no concurrency to gain by deferring it, and
// callers observe L consistently the moment Commit returns.
func (t *TSO) advanceWatermark(evictedTc types.Timestamp) {
	t.lowWatermark.Begin(uint64(evictedTc))

	done := t.journal.Append(wal.Encode(wal.Record{Kind: wal.RecordWatermark, L: evictedTc}))
	if err := <-done; err != nil {
		t.logger.Errorf("watermark checkpoint failed, low watermark will not advance past %d: %v", evictedTc, err)
		return
	}
	t.lowWatermark.Done(uint64(evictedTc))

	t.mu.Lock()
	if evictedTc > t.lowVal {
		t.lowVal = evictedTc
	}
	t.mu.Unlock()

	t.uncmt.raiseLowestBucket(evictedTc)
	t.commits.purgeHalfAbortedBelow(evictedTc)
	t.rotateIfOversize(evictedTc)

	select {
	case t.snapshots <- WatermarkSnapshot{Epoch: int64(t.epoch), Low: int64(t.Low()), OracleHighWater: int64(t.orc.get())}:
	default:
		// slow or absent consumer; drop rather than block the state
		// executor, matching spec §5's "no data structure exposed for
		// direct cross-thread mutation" intent for this broadcast.
	}
}

// rotateIfOversize archives the active journal segment once it has grown
// past cfg.RotateSize: every record already applied at or below evictedTc
// is reflected in in-memory state and durable in the bootstrap records
// written into the fresh segment, so the archived bytes are never needed
// for recovery, only for offline audit.
func (t *TSO) rotateIfOversize(evictedTc types.Timestamp) {
	size, err := t.journal.Size()
	if err != nil || size < int64(t.cfg.RotateSize) {
		return
	}
	t.orc.mu.Lock()
	highWater := t.orc.rangeHighWater
	t.orc.mu.Unlock()
	bootstrap := []wal.Record{
		{Kind: wal.RecordWatermark, L: evictedTc},
		{Kind: wal.RecordRange, HighWater: highWater},
	}
	if err := t.journal.Rotate(bootstrap...); err != nil {
		t.logger.Errorf("journal segment rotation failed, active segment will keep growing: %v", err)
	}
}

// BeginTxn returns a Txn handle bound to a fresh start timestamp, convenient for callers who want
// to accumulate a write set across several operations before calling
// Commit once.
func (t *TSO) BeginTxn() (*Txn, error) {
	ts, err := t.Begin()
	if err != nil {
		return nil, err
	}
	return &Txn{ts: ts, tso: t}, nil
}
