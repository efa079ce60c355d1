// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"fmt"

	"github.com/samber/oops"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config is the boot configuration a plugin receives in Init.
type Config map[string]any

// Name returns the plugin name.
func (c Config) Name() string {
	s, _ := c["name"].(string)
	return s
}

// Version returns the plugin version.
func (c Config) Version() string {
	s, _ := c["version"].(string)
	return s
}

// Settings returns the host-side settings tree, never nil.
func (c Config) Settings() map[string]any {
	if m, ok := c["settings"].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// EncodeConfig converts a boot configuration into its wire form. Values are
// normalized to the JSON-like shapes structpb accepts.
func EncodeConfig(cfg map[string]any) (*structpb.Struct, error) {
	normalized, ok := normalize(cfg).(map[string]any)
	if !ok {
		normalized = map[string]any{}
	}
	s, err := structpb.NewStruct(normalized)
	if err != nil {
		return nil, oops.In("pluginsdk").Wrapf(err, "encode boot configuration")
	}
	return s, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	default:
		return fmt.Sprint(val)
	}
}
