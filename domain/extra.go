package domain

import (
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
)

// Attributes the server sends that a resource type does not model are kept
// verbatim in its Extra map and written back out on encode.

func jsonKeys(v any) map[string]struct{} {
	t := reflect.TypeOf(v)
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

// unmarshalWithExtra decodes data into v and returns the members v has no
// field for.
func unmarshalWithExtra(data []byte, v any, known map[string]struct{}) (map[string]any, error) {
	if err := sonic.ConfigStd.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// marshalWithExtra encodes v plus extra. Modelled fields win on collision.
func marshalWithExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var all map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := all[k]; !ok {
			all[k] = val
		}
	}
	return sonic.ConfigStd.Marshal(all)
}

func cloneExtra(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneExtra(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	}
	return v
}
