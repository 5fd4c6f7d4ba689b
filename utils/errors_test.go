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

package utils

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewErrorWriter(&buf)
	w.Write(binary.BigEndian, uint8(0x01))
	w.Write(binary.BigEndian, uint64(5))
	w.Write(binary.BigEndian, uint64(6))
	require.NoError(t, w.Error())

	r := NewErrorReader(bytes.NewReader(buf.Bytes()))
	var kind uint8
	var ts, tc uint64
	r.Read(binary.BigEndian, &kind)
	r.Read(binary.BigEndian, &ts)
	r.Read(binary.BigEndian, &tc)
	require.NoError(t, r.Error())

	assert.Equal(t, uint8(0x01), kind)
	assert.Equal(t, uint64(5), ts)
	assert.Equal(t, uint64(6), tc)
}

func TestErrorWriterStopsAfterFirstError(t *testing.T) {
	var buf bytes.Buffer
	w := NewErrorWriter(&buf)
	// binary.Write rejects non-fixed-size types.
	w.Write(binary.BigEndian, "not fixed size")
	assert.Error(t, w.Error())

	before := w.Error()
	w.Write(binary.BigEndian, uint64(1))
	assert.Equal(t, before, w.Error())
}

func TestErrorReaderStopsAfterFirstError(t *testing.T) {
	r := NewErrorReader(bytes.NewReader(nil))
	var v uint64
	r.Read(binary.BigEndian, &v)
	assert.Error(t, r.Error())

	before := r.Error()
	r.Read(binary.BigEndian, &v)
	assert.Equal(t, before, r.Error())
}
