package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSet is a set of strings stored as a JSON array
type StringSet []string

// Contains reports whether v is a member of the set
func (s StringSet) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSet) Scan(src interface{}) error {
	var out []string
	if err := scanJSON(src, &out); err != nil {
		return fmt.Errorf("scan string set: %w", err)
	}
	*s = out
	return nil
}

// IntSet is a set of ids stored as a JSON array
type IntSet []int64

// Contains reports whether v is a member of the set
func (s IntSet) Contains(v int64) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

func (s IntSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *IntSet) Scan(src interface{}) error {
	var out []int64
	if err := scanJSON(src, &out); err != nil {
		return fmt.Errorf("scan int set: %w", err)
	}
	*s = out
	return nil
}

// JSONMap is a free-form JSON object column
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src interface{}) error {
	out := map[string]interface{}{}
	if err := scanJSON(src, &out); err != nil {
		return fmt.Errorf("scan json map: %w", err)
	}
	*m = out
	return nil
}

// String returns the value stored under key, or "" when absent or not a string
func (m JSONMap) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func scanJSON(src interface{}, dest interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
