// Copyright 2023 The Vitess Authors.
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
//
// Modifications Copyright 2025 Supabase, Inc.

package viperutil

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options configures a single Value.
type Options[T any] struct {
	// Default is returned when no flag, env var or config file sets the key.
	Default T
	// FlagName, if set, is the pflag bound to the key by BindFlags.
	FlagName string
	// EnvVars are checked in order; the first one set wins.
	EnvVars []string
	// GetFunc overrides how the value is read out of viper. When nil a getter
	// is picked from T.
	GetFunc func(v *viper.Viper) func(key string) T
}

// Value is a typed handle on one configuration key.
type Value[T any] struct {
	reg      *Registry
	key      string
	flagName string
	def      T
	get      func(key string) T
}

// Configure registers key in reg and returns a handle for reading it.
func Configure[T any](reg *Registry, key string, opts Options[T]) *Value[T] {
	reg.v.SetDefault(key, opts.Default)
	if len(opts.EnvVars) > 0 {
		// BindEnv only fails when called without a key.
		_ = reg.v.BindEnv(append([]string{key}, opts.EnvVars...)...)
	}

	getFunc := opts.GetFunc
	if getFunc == nil {
		getFunc = getFuncFor[T]()
	}

	return &Value[T]{
		reg:      reg,
		key:      key,
		flagName: opts.FlagName,
		def:      opts.Default,
		get:      getFunc(reg.v),
	}
}

// Key returns the dotted viper key.
func (val *Value[T]) Key() string { return val.key }

// FlagName returns the bound flag name, or "".
func (val *Value[T]) FlagName() string { return val.flagName }

// Default returns the registered default.
func (val *Value[T]) Default() T { return val.def }

// Get returns the resolved value.
func (val *Value[T]) Get() T { return val.get(val.key) }

// Set overrides the value for the rest of the registry's lifetime.
func (val *Value[T]) Set(v T) { val.reg.v.Set(val.key, v) }

func (val *Value[T]) registry() *Registry { return val.reg }

// Bindable is any Value that can be bound to a flag.
type Bindable interface {
	Key() string
	FlagName() string
	registry() *Registry
}

// BindFlags binds each value to the flag named by its FlagName. Flags must
// already be defined on fs; values without a FlagName, or whose flag is
// missing, are skipped.
func BindFlags(fs *pflag.FlagSet, values ...Bindable) {
	for _, val := range values {
		name := val.FlagName()
		if name == "" {
			continue
		}
		f := fs.Lookup(name)
		if f == nil {
			slog.Warn("flag not defined, skipping bind", "flag", name, "key", val.Key())
			continue
		}
		if err := val.registry().v.BindPFlag(val.Key(), f); err != nil {
			slog.Warn("failed to bind flag", "flag", name, "key", val.Key(), "error", err)
		}
	}
}

func getFuncFor[T any]() func(v *viper.Viper) func(key string) T {
	var zero T
	var get any
	switch any(zero).(type) {
	case string:
		get = func(v *viper.Viper) func(string) string { return v.GetString }
	case bool:
		get = func(v *viper.Viper) func(string) bool { return v.GetBool }
	case int:
		get = func(v *viper.Viper) func(string) int { return v.GetInt }
	case int64:
		get = func(v *viper.Viper) func(string) int64 { return v.GetInt64 }
	case float64:
		get = func(v *viper.Viper) func(string) float64 { return v.GetFloat64 }
	case time.Duration:
		get = func(v *viper.Viper) func(string) time.Duration { return v.GetDuration }
	case []string:
		get = func(v *viper.Viper) func(string) []string { return v.GetStringSlice }
	default:
		return func(v *viper.Viper) func(string) T {
			return func(key string) T {
				var out T
				if err := v.UnmarshalKey(key, &out); err != nil {
					slog.Warn(fmt.Sprintf("failed to unmarshal %s: %s; using zero value", key, err.Error()))
				}
				return out
			}
		}
	}
	return get.(func(v *viper.Viper) func(string) T)
}
