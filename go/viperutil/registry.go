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


// Package viperutil wraps viper so every command builds its configuration
// from an isolated Registry of typed values. A value can come from a flag, an
// environment variable, a config file, or its default, in that order.
package viperutil

import (
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Registry owns one viper instance and the filesystem it reads config files
// from. Registries are never shared between commands.
type Registry struct {
	v  *viper.Viper
	fs afero.Fs
}

// NewRegistry creates a registry that reads config files from the OS
// filesystem.
//
//	reg := viperutil.NewRegistry()
//	size := viperutil.Configure(reg, "pool.size", viperutil.Options[int]{
//	    Default:  4,
//	    FlagName: "pool-size",
//	})
func NewRegistry() *Registry {
	return NewRegistryWithFs(afero.NewOsFs())
}

// NewRegistryWithFs creates a registry that reads config files from fs.
func NewRegistryWithFs(fs afero.Fs) *Registry {
	v := viper.New()
	v.SetFs(fs)
	return &Registry{v: v, fs: fs}
}

// Fs returns the filesystem config files are read from.
func (reg *Registry) Fs() afero.Fs {
	return reg.fs
}

// AllSettings returns every resolved key, nested by dots.
func (reg *Registry) AllSettings() map[string]any {
	return reg.v.AllSettings()
}

// ConfigFileUsed returns the file LoadConfig read, or "" if none.
func (reg *Registry) ConfigFileUsed() string {
	return reg.v.ConfigFileUsed()
}
