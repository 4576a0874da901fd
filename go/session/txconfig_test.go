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

package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxConfigValidate(t *testing.T) {
	yes := true
	tests := []struct {
		name    string
		cfg     *TxConfig
		wantErr string
	}{
		{name: "nil", cfg: nil},
		{name: "empty", cfg: &TxConfig{}},
		{name: "all set", cfg: &TxConfig{IsolationLevel: RepeatableRead, AccessMode: ReadWrite, Deferrable: &yes}},
		{name: "case and spacing", cfg: &TxConfig{IsolationLevel: "READ   Committed"}},
		{name: "injection", cfg: &TxConfig{IsolationLevel: "read committed; DROP TABLE t"}, wantErr: "isolation level"},
		{name: "unknown level", cfg: &TxConfig{IsolationLevel: "snapshot"}, wantErr: "isolation level"},
		{name: "bad access mode", cfg: &TxConfig{AccessMode: "write only"}, wantErr: "access mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransactionConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBeginStatement(t *testing.T) {
	no := false
	tests := []struct {
		cfg  *TxConfig
		want string
	}{
		{cfg: nil, want: "BEGIN TRANSACTION"},
		{cfg: &TxConfig{}, want: "BEGIN TRANSACTION"},
		{cfg: &TxConfig{IsolationLevel: "read  committed"}, want: "BEGIN TRANSACTION ISOLATION LEVEL READ COMMITTED"},
		{cfg: &TxConfig{AccessMode: ReadOnly}, want: "BEGIN TRANSACTION READ ONLY"},
		{cfg: &TxConfig{Deferrable: &no}, want: "BEGIN TRANSACTION NOT DEFERRABLE"},
		{
			cfg:  &TxConfig{IsolationLevel: Serializable, AccessMode: ReadWrite, Deferrable: &no},
			want: "BEGIN TRANSACTION ISOLATION LEVEL SERIALIZABLE READ WRITE NOT DEFERRABLE",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cfg.BeginStatement())
	}
}

func TestIsSavepointUnsupported(t *testing.T) {
	for msg, want := range map[string]bool{
		`Parser Error: syntax error at or near "SAVEPOINT"`: true,
		"Not implemented Error: SAVEPOINT is not supported": true,
		"syntax error at end of input":                      false,
		"IO Error: savepoint file missing":                  false,
		"Catalog Error: table not found":                    false,
	} {
		assert.Equal(t, want, isSavepointUnsupported(errors.New(msg)), msg)
	}
}

func TestDialectProbeHoldsCapability(t *testing.T) {
	d := NewDialect()
	assert.Equal(t, SavepointUnknown, d.SavepointCapability())

	calls := 0
	ok, err := d.beginSavepoint(func() error {
		calls++
		return errors.New(`syntax error at or near "SAVEPOINT"`)
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, SavepointUnsupported, d.SavepointCapability())

	ok, err = d.beginSavepoint(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, calls, "no further probes once unsupported")
	assert.Equal(t, "unsupported", d.SavepointCapability().String())
}
