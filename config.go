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

package tso

import (
	"os"
	"strconv"
	"time"
)

const (
	_kb = 1024
	_mb = 1024 * _kb
)

// Config is the immutable set of knobs the TSO is constructed with. There
// is no mutable global configuration anywhere in this package; every
// component takes its share of Config by value at construction time.
type Config struct {
	// MaxItems is the capacity of the commit hash map (component B).
	// Larger means a slower-moving low watermark and more conflict-check
	// memory.
	MaxItems int

	// MaxCommits sizes the uncommitted set's bucket grid (component C).
	MaxCommits int

	// RangeSize is R from the oracle's range durability protocol
	// (component A): the oracle reserves and durably records timestamps R
	// at a time.
	RangeSize uint64

	// FlushTimeout is the maximum time the journal (component D) holds a
	// batch open before flushing it, even if BatchSize has not been
	// reached.
	FlushTimeout time.Duration

	// BatchSize is the maximum number of bytes the journal accumulates
	// per batch before flushing early.
	BatchSize int

	// RotateSize is the active journal segment size, in bytes, past which
	// a low-watermark advance also rotates the segment out: the old file
	// is compressed and archived, and a fresh segment (bootstrapped with
	// the current range high-water and L, so recovery never needs the
	// archived bytes) takes over appends.
	RotateSize int

	FileMode os.FileMode
}

var DefaultConfig = Config{
	MaxItems:     100_000,
	MaxCommits:   100_000,
	RangeSize:    1_000_000,
	FlushTimeout: 10 * time.Millisecond,
	BatchSize:    1 * _kb,
	RotateSize:   4 * _mb,
	FileMode:     0755,
}

func (c *Config) validate() error {
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultConfig.MaxItems
	}
	if c.MaxCommits <= 0 {
		c.MaxCommits = DefaultConfig.MaxCommits
	}
	if c.RangeSize == 0 {
		c.RangeSize = DefaultConfig.RangeSize
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultConfig.FlushTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultConfig.BatchSize
	}
	if c.RotateSize <= 0 {
		c.RotateSize = DefaultConfig.RotateSize
	}
	if c.FileMode <= 0 {
		c.FileMode = DefaultConfig.FileMode
	}
	return nil
}

// LoadConfig starts from DefaultConfig and overrides any field whose
// environment variable is set and parses cleanly. Unset or malformed
// variables are left at their default; LoadConfig never returns an error,
// matching the teacher's own config.validate() style of clamping back to
// defaults instead of failing startup over a bad knob.
func LoadConfig() Config {
	cfg := DefaultConfig

	if v, ok := envInt("TSO_MAX_ITEMS"); ok {
		cfg.MaxItems = v
	}
	if v, ok := envInt("TSO_MAX_COMMITS"); ok {
		cfg.MaxCommits = v
	}
	if v, ok := envUint64("TSO_RANGE_SIZE"); ok {
		cfg.RangeSize = v
	}
	if v, ok := envInt("TSO_FLUSH_TIMEOUT_MS"); ok {
		cfg.FlushTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("TSO_BATCH_SIZE"); ok {
		cfg.BatchSize = v
	}
	if v, ok := envInt("TSO_ROTATE_SIZE"); ok {
		cfg.RotateSize = v
	}

	_ = cfg.validate()
	return cfg
}

func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envUint64(key string) (uint64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
