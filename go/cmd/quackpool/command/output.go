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


package command

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/supabase/quackpool/go/config"
)

// encoder writes a sequence of values: JSON lines, or a YAML document per
// value.
type encoder interface {
	Encode(v any) error
	Close() error
}

type jsonEncoder struct{ *json.Encoder }

func (jsonEncoder) Close() error { return nil }

func newEncoder(format string, w io.Writer) (encoder, error) {
	switch format {
	case config.OutputJSON:
		return jsonEncoder{json.NewEncoder(w)}, nil
	case config.OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
