package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// bookkeepingFields change on every write and are excluded from diffs.
var bookkeepingFields = map[string]bool{
	"updated_at": true,
	"updated_by": true,
}

// Snapshot captures v as a flat field map using its JSON encoding.
// A nil v, nil pointer or nil map yields a nil snapshot.
func Snapshot(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map) && rv.IsNil() {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return out, nil
}

// Diff returns the fields present in both snapshots whose values differ.
// Values are compared whole; nested maps are not descended into.
func Diff(before, after map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for key, old := range before {
		if bookkeepingFields[key] {
			continue
		}
		cur, ok := after[key]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(old, cur) {
			changes[key] = FieldChange{Old: old, New: cur}
		}
	}
	return changes
}

// FieldNames returns the keys of a snapshot.
func FieldNames(snapshot map[string]any) []string {
	names := make([]string, 0, len(snapshot))
	for k := range snapshot {
		names = append(names, k)
	}
	return names
}
