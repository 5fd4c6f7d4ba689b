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
)

func TestWatermarkSnapshotMarshalRoundTrip(t *testing.T) {
	want := &WatermarkSnapshot{Epoch: 3, Low: 1024, OracleHighWater: 4096}

	data, err := want.Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := UnmarshalWatermarkSnapshot(data)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWatermarkSnapshotMarshalZeroValue(t *testing.T) {
	want := &WatermarkSnapshot{}

	data, err := want.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalWatermarkSnapshot(data)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
