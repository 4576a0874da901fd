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
	"sync"
)

// SavepointCapability records whether an engine accepts SAVEPOINT.
type SavepointCapability int

const (
	// SavepointUnknown means no nested transaction has been attempted yet.
	SavepointUnknown SavepointCapability = iota
	// SavepointSupported means a SAVEPOINT statement has succeeded.
	SavepointSupported
	// SavepointUnsupported means the engine rejected SAVEPOINT as a
	// syntax error; nested transactions run without isolation.
	SavepointUnsupported
)

func (c SavepointCapability) String() string {
	switch c {
	case SavepointSupported:
		return "supported"
	case SavepointUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Dialect holds per-engine capabilities learned at runtime. Share one
// Dialect between the Sessions that talk to the same engine so the
// savepoint probe runs at most once.
type Dialect struct {
	mu         sync.Mutex
	savepoints SavepointCapability
}

// NewDialect returns a Dialect with every capability unknown.
func NewDialect() *Dialect {
	return &Dialect{}
}

// NewDialectWith returns a Dialect whose savepoint capability is already
// known, skipping the probe.
func NewDialectWith(savepoints SavepointCapability) *Dialect {
	return &Dialect{savepoints: savepoints}
}

// SavepointCapability returns the current savepoint capability.
func (d *Dialect) SavepointCapability() SavepointCapability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.savepoints
}

// beginSavepoint runs exec, which issues SAVEPOINT, unless savepoints are
// known to be unsupported. It reports whether a savepoint is now open.
//
// While the capability is unknown the mutex is held across exec, so
// concurrent first attempts wait for one probe instead of racing.
func (d *Dialect) beginSavepoint(exec func() error) (bool, error) {
	d.mu.Lock()
	switch d.savepoints {
	case SavepointUnsupported:
		d.mu.Unlock()
		return false, nil
	case SavepointSupported:
		d.mu.Unlock()
		if err := exec(); err != nil {
			return false, err
		}
		return true, nil
	}
	defer d.mu.Unlock()

	err := exec()
	switch {
	case err == nil:
		d.savepoints = SavepointSupported
		return true, nil
	case isSavepointUnsupported(err):
		d.savepoints = SavepointUnsupported
		return false, nil
	default:
		return false, err
	}
}

var unsupportedMarkers = []string{
	"syntax error",
	"parser error",
	"not supported",
	"not implemented",
	"unsupported",
}

// isSavepointUnsupported recognizes the error an engine without savepoint
// support gives for SAVEPOINT: a syntax or support error naming the
// keyword.
func isSavepointUnsupported(err error) bool {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "savepoint") {
		return false
	}
	for _, marker := range unsupportedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
