package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// ExecutionContext is the restart-state bag of a job or step execution.
// Keys are namespaced by the owning component (e.g. "customerReader.read.count").
// Values must be JSON serializable because the context is persisted by the job repository.
//
// An ExecutionContext is owned by a single component at a time and is not safe for
// concurrent mutation.
type ExecutionContext struct {
	values map[string]interface{}
	dirty  bool
}

// NewExecutionContext creates an empty ExecutionContext.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{values: make(map[string]interface{})}
}

// NewExecutionContextFrom creates an ExecutionContext holding a shallow copy of values.
func NewExecutionContextFrom(values map[string]interface{}) *ExecutionContext {
	ec := NewExecutionContext()
	for k, v := range values {
		ec.values[k] = v
	}
	return ec
}

// Put stores value under key. A nil value removes the key.
// The context becomes dirty when the stored value changes.
func (ec *ExecutionContext) Put(key string, value interface{}) {
	if value == nil {
		if _, ok := ec.values[key]; ok {
			delete(ec.values, key)
			ec.dirty = true
		}
		return
	}
	if ec.values == nil {
		ec.values = make(map[string]interface{})
	}
	if old, ok := ec.values[key]; !ok || !reflect.DeepEqual(old, value) {
		ec.dirty = true
	}
	ec.values[key] = value
}

// PutString stores a string value.
func (ec *ExecutionContext) PutString(key, value string) { ec.Put(key, value) }

// PutInt stores an int value.
func (ec *ExecutionContext) PutInt(key string, value int) { ec.Put(key, value) }

// PutLong stores an int64 value.
func (ec *ExecutionContext) PutLong(key string, value int64) { ec.Put(key, value) }

// PutDouble stores a float64 value.
func (ec *ExecutionContext) PutDouble(key string, value float64) { ec.Put(key, value) }

// Get returns the raw value stored under key.
func (ec *ExecutionContext) Get(key string) (interface{}, bool) {
	if ec == nil {
		return nil, false
	}
	v, ok := ec.values[key]
	return v, ok
}

// GetString returns the string stored under key.
func (ec *ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetStringOrDefault returns the string stored under key, or def when absent.
func (ec *ExecutionContext) GetStringOrDefault(key, def string) string {
	if s, ok := ec.GetString(key); ok {
		return s
	}
	return def
}

// GetLong returns the integer stored under key as int64.
// Values that went through JSON (float64, json.Number) are converted when integral.
func (ec *ExecutionContext) GetLong(key string) (int64, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// GetLongOrDefault returns the int64 stored under key, or def when absent.
func (ec *ExecutionContext) GetLongOrDefault(key string, def int64) int64 {
	if n, ok := ec.GetLong(key); ok {
		return n
	}
	return def
}

// GetInt returns the integer stored under key as int.
func (ec *ExecutionContext) GetInt(key string) (int, bool) {
	n, ok := ec.GetLong(key)
	if !ok || n > math.MaxInt || n < math.MinInt {
		return 0, false
	}
	return int(n), true
}

// GetIntOrDefault returns the int stored under key, or def when absent.
func (ec *ExecutionContext) GetIntOrDefault(key string, def int) int {
	if n, ok := ec.GetInt(key); ok {
		return n
	}
	return def
}

// GetDouble returns the number stored under key as float64.
func (ec *ExecutionContext) GetDouble(key string) (float64, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat64(v)
}

// GetDoubleOrDefault returns the float64 stored under key, or def when absent.
func (ec *ExecutionContext) GetDoubleOrDefault(key string, def float64) float64 {
	if f, ok := ec.GetDouble(key); ok {
		return f
	}
	return def
}

// GetBool returns the bool stored under key.
func (ec *ExecutionContext) GetBool(key string) (bool, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetMap returns a nested map stored under key, e.g. start-after sort key values.
func (ec *ExecutionContext) GetMap(key string) (map[string]interface{}, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// ContainsKey reports whether key is present.
func (ec *ExecutionContext) ContainsKey(key string) bool {
	_, ok := ec.Get(key)
	return ok
}

// Remove deletes key and returns the removed value.
func (ec *ExecutionContext) Remove(key string) (interface{}, bool) {
	v, ok := ec.Get(key)
	if ok {
		delete(ec.values, key)
		ec.dirty = true
	}
	return v, ok
}

// Keys returns the keys in sorted order.
func (ec *ExecutionContext) Keys() []string {
	if ec == nil {
		return nil
	}
	keys := make([]string, 0, len(ec.values))
	for k := range ec.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of entries.
func (ec *ExecutionContext) Size() int {
	if ec == nil {
		return 0
	}
	return len(ec.values)
}

// IsEmpty reports whether the context has no entries.
func (ec *ExecutionContext) IsEmpty() bool { return ec.Size() == 0 }

// IsDirty reports whether the context changed since the last ClearDirtyFlag.
func (ec *ExecutionContext) IsDirty() bool { return ec != nil && ec.dirty }

// ClearDirtyFlag marks the context as persisted.
func (ec *ExecutionContext) ClearDirtyFlag() {
	if ec != nil {
		ec.dirty = false
	}
}

// Copy returns a deep copy of the context. Nested maps and slices are copied too.
func (ec *ExecutionContext) Copy() *ExecutionContext {
	cp := NewExecutionContext()
	if ec == nil {
		return cp
	}
	for k, v := range ec.values {
		cp.values[k] = deepCopyValue(v)
	}
	cp.dirty = ec.dirty
	return cp
}

// Merge copies all entries of other into ec, overwriting existing keys.
func (ec *ExecutionContext) Merge(other *ExecutionContext) {
	if other == nil {
		return
	}
	for k, v := range other.values {
		ec.Put(k, deepCopyValue(v))
	}
}

// ToMap returns a deep copy of the entries as a plain map.
func (ec *ExecutionContext) ToMap() map[string]interface{} {
	return ec.Copy().values
}

// Equal reports whether both contexts hold the same entries, comparing numbers by value.
func (ec *ExecutionContext) Equal(other *ExecutionContext) bool {
	if ec.Size() != other.Size() {
		return false
	}
	for _, k := range ec.Keys() {
		a, _ := ec.Get(k)
		b, ok := other.Get(k)
		if !ok {
			return false
		}
		if fa, okA := toFloat64(a); okA {
			if fb, okB := toFloat64(b); okB && fa == fb {
				continue
			}
			return false
		}
		if !reflect.DeepEqual(a, b) {
			return false
		}
	}
	return true
}

// String returns the JSON form of the context.
func (ec *ExecutionContext) String() string {
	b, err := json.Marshal(ec)
	if err != nil {
		return fmt.Sprintf("ExecutionContext(%d entries)", ec.Size())
	}
	return string(b)
}

// MarshalJSON implements json.Marshaler.
func (ec *ExecutionContext) MarshalJSON() ([]byte, error) {
	if ec == nil || ec.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(ec.values)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are kept as json.Number
// so large int64 counters survive the round trip.
func (ec *ExecutionContext) UnmarshalJSON(data []byte) error {
	values := make(map[string]interface{})
	if len(data) > 0 && string(data) != "null" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&values); err != nil {
			return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
		}
	}
	ec.values = values
	ec.dirty = false
	return nil
}

// Value implements driver.Valuer, storing the context as a JSON string.
func (ec *ExecutionContext) Value() (driver.Value, error) {
	b, err := ec.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return ec.UnmarshalJSON(nil)
	case []byte:
		return ec.UnmarshalJSON(v)
	case string:
		return ec.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, inner := range t {
			m[k] = deepCopyValue(inner)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, inner := range t {
			s[i] = deepCopyValue(inner)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
