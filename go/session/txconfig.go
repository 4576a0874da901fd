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
	"strings"
)

// IsolationLevel is a transaction isolation level.
type IsolationLevel string

// Isolation levels accepted by TxConfig.
const (
	ReadUncommitted IsolationLevel = "read uncommitted"
	ReadCommitted   IsolationLevel = "read committed"
	RepeatableRead  IsolationLevel = "repeatable read"
	Serializable    IsolationLevel = "serializable"
)

// AccessMode is a transaction access mode.
type AccessMode string

// Access modes accepted by TxConfig.
const (
	ReadOnly  AccessMode = "read only"
	ReadWrite AccessMode = "read write"
)

var (
	isolationLevels = []string{
		string(ReadUncommitted), string(ReadCommitted), string(RepeatableRead), string(Serializable),
	}
	accessModes = []string{string(ReadOnly), string(ReadWrite)}
)

// TxConfig holds the optional BEGIN modifiers. Values are spliced into SQL
// text, so Validate checks them against fixed allow-lists first.
type TxConfig struct {
	// IsolationLevel is empty for the engine default.
	IsolationLevel IsolationLevel

	// AccessMode is empty for the engine default.
	AccessMode AccessMode

	// Deferrable is nil for the engine default.
	Deferrable *bool
}

// Validate returns an *InvalidTransactionConfigError for the first field
// outside its allow-list. A nil config is valid.
func (c *TxConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.IsolationLevel != "" && !allowed(string(c.IsolationLevel), isolationLevels) {
		return &InvalidTransactionConfigError{
			Field:   "isolation level",
			Value:   string(c.IsolationLevel),
			Allowed: isolationLevels,
		}
	}
	if c.AccessMode != "" && !allowed(string(c.AccessMode), accessModes) {
		return &InvalidTransactionConfigError{
			Field:   "access mode",
			Value:   string(c.AccessMode),
			Allowed: accessModes,
		}
	}
	return nil
}

// BeginStatement returns the BEGIN statement for c. It must only be called
// on a validated config.
func (c *TxConfig) BeginStatement() string {
	var b strings.Builder
	b.WriteString("BEGIN TRANSACTION")
	if c == nil {
		return b.String()
	}
	if c.IsolationLevel != "" {
		b.WriteString(" ISOLATION LEVEL ")
		b.WriteString(strings.ToUpper(normalize(string(c.IsolationLevel))))
	}
	if c.AccessMode != "" {
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(normalize(string(c.AccessMode))))
	}
	if c.Deferrable != nil {
		if *c.Deferrable {
			b.WriteString(" DEFERRABLE")
		} else {
			b.WriteString(" NOT DEFERRABLE")
		}
	}
	return b.String()
}

// normalize lower-cases v and collapses runs of whitespace.
func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

func allowed(v string, list []string) bool {
	n := normalize(v)
	for _, a := range list {
		if n == a {
			return true
		}
	}
	return false
}
