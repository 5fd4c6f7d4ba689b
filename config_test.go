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
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWithoutEnv(t *testing.T) {
	cfg := LoadConfig()
	require.Equal(t, DefaultConfig, cfg)
}

func TestLoadConfigHonoursEnvOverrides(t *testing.T) {
	t.Setenv("TSO_MAX_ITEMS", "42")
	t.Setenv("TSO_MAX_COMMITS", "7")
	t.Setenv("TSO_RANGE_SIZE", "9999")
	t.Setenv("TSO_FLUSH_TIMEOUT_MS", "25")
	t.Setenv("TSO_BATCH_SIZE", "2048")
	t.Setenv("TSO_ROTATE_SIZE", "8192")

	cfg := LoadConfig()
	require.Equal(t, 42, cfg.MaxItems)
	require.Equal(t, 7, cfg.MaxCommits)
	require.Equal(t, uint64(9999), cfg.RangeSize)
	require.Equal(t, 25*time.Millisecond, cfg.FlushTimeout)
	require.Equal(t, 2048, cfg.BatchSize)
	require.Equal(t, 8192, cfg.RotateSize)
}

func TestLoadConfigIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("TSO_MAX_ITEMS", "not-a-number")

	cfg := LoadConfig()
	require.Equal(t, DefaultConfig.MaxItems, cfg.MaxItems)
}

func TestValidateClampsZeroAndNegativeFields(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.validate())
	require.Equal(t, DefaultConfig, cfg)
}
