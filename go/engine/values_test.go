// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindValue(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.FixedZone("x", 3600))

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "nil", in: nil, want: nil},
		{name: "int", in: 42, want: int64(42)},
		{name: "int32", in: int32(-7), want: int64(-7)},
		{name: "uint16", in: uint16(9), want: int64(9)},
		{name: "float32", in: float32(1.5), want: float64(1.5)},
		{name: "string", in: "duck", want: "duck"},
		{name: "bytes", in: []byte{1, 2}, want: []byte{1, 2}},
		{name: "bool", in: true, want: true},
		{name: "time is UTC text", in: ts, want: "2025-03-01T11:30:00Z"},
		{name: "stringer", in: netip.MustParseAddr("10.0.0.1"), want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BindValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBindValueErrors(t *testing.T) {
	_, err := BindValue(uint64(math.MaxUint64))
	assert.ErrorContains(t, err, "overflows int64")

	_, err = BindValue(struct{}{})
	assert.ErrorContains(t, err, "unsupported parameter type")

	_, err = BindValues([]any{1, map[string]int{}})
	assert.ErrorContains(t, err, "parameter 2")
}

func TestBindValuesEmpty(t *testing.T) {
	got, err := BindValues(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
