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
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransactionConfig matches every *InvalidTransactionConfigError.
	ErrInvalidTransactionConfig = errors.New("invalid transaction config")

	// ErrTransactionRolledBack is returned when the callback succeeded but
	// the transaction had been marked rollback-only, typically by a failed
	// nested transaction whose error the callback swallowed.
	ErrTransactionRolledBack = errors.New("transaction was marked rollback-only and has been rolled back")

	// ErrTransactionDone is returned when a transaction-scoped Session is
	// used after its transaction finished.
	ErrTransactionDone = errors.New("transaction has already been committed or rolled back")
)

// InvalidTransactionConfigError describes a rejected TxConfig field.
type InvalidTransactionConfigError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *InvalidTransactionConfigError) Error() string {
	return fmt.Sprintf("%s: %s %q is not one of %s",
		ErrInvalidTransactionConfig, e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// Is reports whether target is ErrInvalidTransactionConfig.
func (e *InvalidTransactionConfigError) Is(target error) bool {
	return target == ErrInvalidTransactionConfig
}
