package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Meta is the open key-value document attached to a transaction. It is the
// only mutable part of a transaction besides the accepted flag.
type Meta map[string]any

// Value implements driver.Valuer so Meta persists as JSONB.
func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB columns.
func (m *Meta) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into Meta", value)
	}
}

// Merge returns a copy of m with the keys of other layered on top. Keys in
// other overwrite same-named keys; remaining keys are retained.
func (m Meta) Merge(other Meta) Meta {
	merged := make(Meta, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Clone returns a shallow copy of m, never nil.
func (m Meta) Clone() Meta {
	cloned := make(Meta, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Get returns the value stored under key, or nil when absent.
func (m Meta) Get(key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}
