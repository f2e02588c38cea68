// Copyright 2025 Kadir Pekel
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

package config

import (
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

var durationType = reflect.TypeOf(time.Duration(0))

const (
	durationPattern     = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`
	durationDescription = "Go duration, e.g. 500ms, 1m, 1h30m"
)

// Schema returns the JSON Schema of the configuration file.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		// Field names must match what the loader decodes.
		FieldNameTag: "yaml",
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{Type: "string", Pattern: durationPattern}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&Config{})
	// Field descriptions come from struct tags during reflection and would
	// overwrite one set by the Mapper.
	describeDurations(schema)
	schema.Title = "ratewindow configuration"
	schema.Description = "Named sliding-window rate limit policies and the service that serves them"
	schema.Examples = []interface{}{
		map[string]interface{}{
			"policies": map[string]interface{}{
				"api": map[string]interface{}{
					"limit":    100,
					"window":   "1m",
					"max_keys": 100000,
				},
			},
		},
	}
	return schema
}

func describeDurations(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if s.Pattern == durationPattern && s.Description == "" {
		s.Description = durationDescription
	}
	if s.Properties != nil {
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			describeDurations(pair.Value)
		}
	}
	describeDurations(s.AdditionalProperties)
	describeDurations(s.Items)
}
