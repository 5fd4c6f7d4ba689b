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

// Package wal is the TSO's state journal (component D): an append-only,
// length-prefixed byte log that batches records up to a byte budget or a
// flush timeout, whichever comes first, and only reports a record durable
// once the batch containing it has been written and fsynced.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/B1NARY-GR0UP/tso-core/pkg/bufferpool"
	"github.com/B1NARY-GR0UP/tso-core/pkg/logger"
	pkgutils "github.com/B1NARY-GR0UP/tso-core/pkg/utils"
	"github.com/B1NARY-GR0UP/tso-core/types"
	"github.com/B1NARY-GR0UP/tso-core/utils"
)

// RecordKind tags each journal record per spec §6.
type RecordKind byte

const (
	// RecordCommit is 0x01 | Ts:u64 | Tc:u64.
	RecordCommit RecordKind = 0x01
	// RecordAbort is 0x02 | Ts:u64. Used for both half- and full-abort;
	// replay treats any abort record as final, per spec §6.
	RecordAbort RecordKind = 0x02
	// RecordWatermark is 0x03 | L:u64, a periodic low-watermark checkpoint
	// so recovery doesn't have to replay every eviction.
	RecordWatermark RecordKind = 0x03
	// RecordRange is 0x04 | HighWater:u64, the oracle's range-reservation
	// durability record (spec §4.1/§6, shared onto this journal's stream
	// rather than kept in a second log).
	RecordRange RecordKind = 0x04
)

// Record is the decoded form of one journal entry.
type Record struct {
	Kind      RecordKind
	Ts        types.Timestamp
	Tc        types.Timestamp
	L         types.Timestamp
	HighWater types.Timestamp
}

var ErrJournalClosed = errors.New("wal: journal is closed")

const _fileName = "tso.journal"

// Encode serialises r using the big-endian wire format from spec §6.
func Encode(r Record) []byte {
	var buf bytes.Buffer
	w := utils.NewErrorWriter(&buf)
	w.Write(binary.BigEndian, byte(r.Kind))
	switch r.Kind {
	case RecordCommit:
		w.Write(binary.BigEndian, r.Ts)
		w.Write(binary.BigEndian, r.Tc)
	case RecordAbort:
		w.Write(binary.BigEndian, r.Ts)
	case RecordWatermark:
		w.Write(binary.BigEndian, r.L)
	case RecordRange:
		w.Write(binary.BigEndian, r.HighWater)
	}
	// w.Error() can only be non-nil here if one of the fixed-size writes
	// above fails, which does not happen for plain uint64/byte values.
	return buf.Bytes()
}

// Decode parses one record body (kind byte onward, no length prefix).
func Decode(data []byte) (Record, error) {
	r := utils.NewErrorReader(bytes.NewReader(data))
	var kind byte
	r.Read(binary.BigEndian, &kind)

	var rec Record
	rec.Kind = RecordKind(kind)
	switch rec.Kind {
	case RecordCommit:
		r.Read(binary.BigEndian, &rec.Ts)
		r.Read(binary.BigEndian, &rec.Tc)
	case RecordAbort:
		r.Read(binary.BigEndian, &rec.Ts)
	case RecordWatermark:
		r.Read(binary.BigEndian, &rec.L)
	case RecordRange:
		r.Read(binary.BigEndian, &rec.HighWater)
	default:
		return Record{}, fmt.Errorf("wal: unknown record kind 0x%02x", kind)
	}
	if err := r.Error(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

type pendingRecord struct {
	data []byte
	done chan error
}

// Journal is the batching append-only log. A single background goroutine
// owns the file; Append only ever communicates with it over recordC.
type Journal struct {
	logger logger.Logger

	path string
	fd   *os.File

	batchSize    int
	flushTimeout time.Duration

	recordC chan pendingRecord
	rotateC chan rotateRequest
	stopC   chan struct{}
	doneC   chan struct{}

	mu         sync.Mutex
	fatal      error
	closed     bool
	segmentSeq int
}

type rotateRequest struct {
	bootstrap []Record
	done      chan error
}

// JoinPath returns the journal file path Create/Recover/Open use inside dir,
// so callers that need to Recover before Open (or check existence) without
// constructing a Journal don't have to know the file name.
func JoinPath(dir string) string {
	return filepath.Join(dir, _fileName)
}

// Create creates a new journal file in dir.
func Create(dir string, batchSize int, flushTimeout time.Duration) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, _fileName)
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return newJournal(path, fd, batchSize, flushTimeout), nil
}

// Open reopens an existing journal file for continued appends after
// Recover has read it.
func Open(path string, batchSize int, flushTimeout time.Duration) (*Journal, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return newJournal(path, fd, batchSize, flushTimeout), nil
}

func newJournal(path string, fd *os.File, batchSize int, flushTimeout time.Duration) *Journal {
	j := &Journal{
		logger:       logger.GetLogger(),
		path:         path,
		fd:           fd,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		recordC:      make(chan pendingRecord, 256),
		rotateC:      make(chan rotateRequest),
		stopC:        make(chan struct{}),
		doneC:        make(chan struct{}),
	}
	go j.run()
	return j
}

// Path returns the journal file's path, for recovery callers that need to
// reopen it after reading it to EOF.
func (j *Journal) Path() string {
	return j.path
}

// Append enqueues data (normally the output of Encode) and returns a
// channel that receives exactly one value once the batch containing this
// record has been durably written, or a non-nil error if the journal has
// failed. The state machine must not release its client reply until this
// channel fires, per spec §4.5.
func (j *Journal) Append(data []byte) <-chan error {
	done := make(chan error, 1)

	j.mu.Lock()
	if j.closed {
		done <- ErrJournalClosed
		j.mu.Unlock()
		return done
	}
	if j.fatal != nil {
		done <- j.fatal
		j.mu.Unlock()
		return done
	}
	j.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case j.recordC <- pendingRecord{data: cp, done: done}:
	case <-j.stopC:
		done <- ErrJournalClosed
	}
	return done
}

// Size returns the active segment's current size in bytes, for callers
// deciding whether it is worth rotating.
func (j *Journal) Size() (int64, error) {
	fi, err := os.Stat(j.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Rotate archives the active segment and starts a fresh one: the current
// file is closed, compressed with pkg/utils.Compress into a numbered
// "<segment>.N.s2" file alongside it, and replaced by a new empty file that
// bootstrap is written into before anything else, so a later Recover of
// just the new file alone still resumes from the right place. Rotate is
// meant to run only once the low watermark has advanced past everything
// the archived bytes could describe — recovery never reads archived
// segments back, they exist purely for offline audit/replay.
func (j *Journal) Rotate(bootstrap ...Record) error {
	req := rotateRequest{bootstrap: bootstrap, done: make(chan error, 1)}
	select {
	case j.rotateC <- req:
	case <-j.stopC:
		return ErrJournalClosed
	}
	return <-req.done
}

func (j *Journal) rotateLocked(bootstrap []Record) error {
	j.segmentSeq++
	archivePath := fmt.Sprintf("%s.%d.s2", j.path, j.segmentSeq)

	if err := j.fd.Close(); err != nil {
		return err
	}

	src, err := os.Open(j.path)
	if err != nil {
		return err
	}
	archive, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		src.Close()
		return err
	}
	compressErr := pkgutils.Compress(src, archive)
	src.Close()
	closeErr := archive.Close()
	if compressErr != nil {
		return compressErr
	}
	if closeErr != nil {
		return closeErr
	}

	if err := os.Remove(j.path); err != nil {
		return err
	}

	fd, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.fd = fd

	for _, r := range bootstrap {
		if err := j.writeBatch(withLengthPrefix(Encode(r))); err != nil {
			return err
		}
	}
	return nil
}

// withLengthPrefix prepends the 4-byte big-endian length prefix Recover
// expects, for records written outside the normal batching path.
func withLengthPrefix(data []byte) []byte {
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	out := make([]byte, 0, len(lenPrefix)+len(data))
	out = append(out, lenPrefix[:]...)
	out = append(out, data...)
	return out
}

// Shutdown flushes any pending batch and closes the journal file.
func (j *Journal) Shutdown() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.stopC)
	<-j.doneC
	return j.fd.Close()
}

func (j *Journal) run() {
	defer close(j.doneC)

	timer := time.NewTimer(j.flushTimeout)
	defer timer.Stop()

	buf := bufferpool.Pool.Get()
	defer bufferpool.Pool.Put(buf)

	var pending []pendingRecord

	flush := func() {
		if len(pending) == 0 {
			return
		}
		err := j.writeBatch(buf.Bytes())
		for _, p := range pending {
			p.done <- err
		}
		buf.Reset()
		pending = pending[:0]
		if err != nil {
			j.mu.Lock()
			j.fatal = err
			j.mu.Unlock()
		}
	}

	for {
		select {
		case rec := <-j.recordC:
			j.mu.Lock()
			fatal := j.fatal
			j.mu.Unlock()
			if fatal != nil {
				rec.done <- fatal
				continue
			}

			var lenPrefix [4]byte
			binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(rec.data)))
			buf.Write(lenPrefix[:])
			buf.Write(rec.data)
			pending = append(pending, rec)

			if buf.Len() >= j.batchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(j.flushTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(j.flushTimeout)
		case req := <-j.rotateC:
			flush()
			req.done <- j.rotateLocked(req.bootstrap)
		case <-j.stopC:
			// drain whatever is already queued before flushing for the
			// last time, mirroring DB.run's drain-then-exit shape.
			for {
				select {
				case rec := <-j.recordC:
					var lenPrefix [4]byte
					binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(rec.data)))
					buf.Write(lenPrefix[:])
					buf.Write(rec.data)
					pending = append(pending, rec)
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

func (j *Journal) writeBatch(batch []byte) error {
	if _, err := j.fd.Write(batch); err != nil {
		j.logger.Errorf("journal write failed: %v", err)
		return err
	}
	if err := j.fd.Sync(); err != nil {
		j.logger.Errorf("journal sync failed: %v", err)
		return err
	}
	return nil
}

// Recover reads every record in path, in append order, without requiring a
// live Journal. Callers typically follow Recover with Open to resume
// appending to the same file.
func Recover(path string) ([]Record, error) {
	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer fd.Close()

	r := bufio.NewReader(fd)
	var records []Record
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// a truncated final length prefix is "not yet durable"; stop
			// replay here rather than treating it as corruption.
			break
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			// a truncated final record is treated as "not yet durable"
			// and dropped, not as a fatal recovery error.
			break
		}
		rec, err := Decode(body)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
