package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringList is stored as a JSON array in a text column so it works on
// both Postgres and SQLite.
type StringList []string

// Scan implements the sql.Scanner interface
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = StringList{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		*s = StringList{}
		return nil
	}

	var arr []string
	if err := json.Unmarshal([]byte(trimmed), &arr); err != nil {
		return fmt.Errorf("failed to decode StringList: %w", err)
	}
	*s = arr
	return nil
}

// Value implements the driver.Valuer interface
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// HourList holds hour-of-day slots. A nil HourList is stored as NULL so
// "no slots given" stays distinguishable from an empty list.
type HourList []int

// Scan implements the sql.Scanner interface
func (h *HourList) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into HourList", value)
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		*h = nil
		return nil
	}

	var arr []int
	if err := json.Unmarshal([]byte(trimmed), &arr); err != nil {
		return fmt.Errorf("failed to decode HourList: %w", err)
	}
	*h = arr
	return nil
}

// Value implements the driver.Valuer interface
func (h HourList) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal([]int(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
