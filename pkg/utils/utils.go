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

// Package utils holds cross-cutting helpers: cell fingerprinting, elapsed
// time logging, journal segment compression and thrift/frugal marshalling.
package utils

import (
	"io"
	"time"

	"github.com/B1NARY-GR0UP/tso-core/pkg/logger"
	"github.com/apache/thrift/lib/go/thrift"
	"github.com/cloudwego/frugal"
	"github.com/klauspost/compress/s2"
	"github.com/spaolacci/murmur3"
)

func Elapsed(now time.Time, logger logger.Logger, msg string) {
	logger.Infof("%s elapsed: %s", msg, time.Since(now))
}

func TMarshal(data thrift.TStruct) ([]byte, error) {
	buf := make([]byte, frugal.EncodedSize(data))
	if _, err := frugal.EncodeObject(buf, nil, data); err != nil {
		return nil, err
	}
	return buf, nil
}

func TUnmarshal(data []byte, v thrift.TStruct) error {
	if _, err := frugal.DecodeObject(data, v); err != nil {
		return err
	}
	return nil
}

// Fingerprint hashes a (table, row, column family, column qualifier) tuple
// into the 64-bit cell fingerprint the commit hash map is keyed by. Two
// independently seeded 32-bit murmur3 digests are concatenated rather than
// relying on a single 64-bit murmur3 pass, so that a collision in one half
// does not imply a collision in the other. Collisions are accepted: per
// spec, a false-positive match only ever turns a commit into a conservative
// abort, never the reverse.
func Fingerprint(table, row, family, qualifier string) uint64 {
	lo := murmur3.Sum32WithSeed(cellKey(table, row, family, qualifier), 0)
	hi := murmur3.Sum32WithSeed(cellKey(table, row, family, qualifier), 1)
	return uint64(hi)<<32 | uint64(lo)
}

func cellKey(table, row, family, qualifier string) []byte {
	buf := make([]byte, 0, len(table)+len(row)+len(family)+len(qualifier)+3)
	buf = append(buf, table...)
	buf = append(buf, 0)
	buf = append(buf, row...)
	buf = append(buf, 0)
	buf = append(buf, family...)
	buf = append(buf, 0)
	buf = append(buf, qualifier...)
	return buf
}

func Compress(src io.Reader, dst io.Writer) error {
	enc := s2.NewWriter(dst)
	_, err := io.Copy(enc, src)
	if err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Decompress(src io.Reader, dst io.Writer) error {
	dec := s2.NewReader(src)
	_, err := io.Copy(dst, dec)
	return err
}
