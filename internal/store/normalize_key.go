package store

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a scanned key value to a canonical string form,
// suitable for in-memory lookup maps (e.g. indicator_name -> surrogate id).
//
// Backends must not assume a particular scanned type for keys: the same TEXT
// column can come back as string or []byte depending on the driver. This
// helper keeps lookup maps consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// KeyValueMap folds SelectRows output of shape (key, id) into a lookup map.
// Rows with a non-integer id are rejected rather than silently skipped.
func KeyValueMap(rows [][]any) (map[string]int64, error) {
	out := make(map[string]int64, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("store: key/value row %d has %d columns, want 2", i, len(row))
		}
		id, err := toInt64(row[1])
		if err != nil {
			return nil, fmt.Errorf("store: key/value row %d: %w", i, err)
		}
		out[NormalizeKey(row[0])] = id
	}
	return out, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not an integer id", v, v)
	}
}
