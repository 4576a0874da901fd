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

package connpool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned when acquiring from a pool that has been
	// closed, or whose Close raced with the acquisition.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrQueueFull is returned when the waitlist is already at
	// MaxWaitingRequests. It is an admission-control signal; the pool
	// never retries it.
	ErrQueueFull = errors.New("too many requests waiting for a connection")

	// ErrAcquireTimeout is returned when no connection became available
	// within AcquireTimeout. Callers may retry.
	ErrAcquireTimeout = errors.New("timeout waiting for connection")

	// ErrConnectionCreationFailed matches every *ConnectionCreationError.
	ErrConnectionCreationFailed = errors.New("connection creation failed")

	// ErrSetupHookFailed matches every *SetupHookError.
	ErrSetupHookFailed = errors.New("connection setup hook failed")
)

// ConnectionCreationError wraps the engine error returned while opening a
// new connection.
type ConnectionCreationError struct {
	Err error
}

func (e *ConnectionCreationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrConnectionCreationFailed, e.Err)
}

func (e *ConnectionCreationError) Unwrap() error { return e.Err }

// Is reports ErrConnectionCreationFailed as a match.
func (e *ConnectionCreationError) Is(target error) bool {
	return target == ErrConnectionCreationFailed
}

// SetupHookError wraps the error returned by Config.Setup. The connection
// the hook ran against has already been destroyed.
type SetupHookError struct {
	Err error
}

func (e *SetupHookError) Error() string {
	return fmt.Sprintf("%s: %v", ErrSetupHookFailed, e.Err)
}

func (e *SetupHookError) Unwrap() error { return e.Err }

// Is reports ErrSetupHookFailed as a match.
func (e *SetupHookError) Is(target error) bool {
	return target == ErrSetupHookFailed
}
