package core

import (
	"fmt"
	"time"
)

// Record is a generic typed record of some entity type.
type Record struct {
	Type      string         `json:"entityType"`
	ID        string         `json:"id"`
	Attrs     map[string]any `json:"attributes"`
	Deleted   bool           `json:"deleted,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`

	// Persisted is set by the store once the record exists in it.
	Persisted bool `json:"-"`
}

// NewRecord returns an empty, unsaved record of the given type.
func NewRecord(entityType string) *Record {
	return &Record{Type: entityType, Attrs: make(map[string]any)}
}

// IsNew reports whether the record has not been stored yet.
func (r *Record) IsNew() bool {
	return !r.Persisted
}

// Get returns the attribute value or nil.
func (r *Record) Get(attr string) any {
	if attr == "id" {
		if r.ID == "" {
			return nil
		}
		return r.ID
	}
	return r.Attrs[attr]
}

// Has reports whether the attribute was set, even to nil.
func (r *Record) Has(attr string) bool {
	if attr == "id" {
		return r.ID != ""
	}
	_, ok := r.Attrs[attr]
	return ok
}

// Set assigns an attribute. Setting "id" assigns the record ID.
func (r *Record) Set(attr string, value any) {
	if attr == "id" {
		if value == nil {
			r.ID = ""
			return
		}
		r.ID = fmt.Sprint(value)
		return
	}
	if r.Attrs == nil {
		r.Attrs = make(map[string]any)
	}
	r.Attrs[attr] = value
}

// SetMany assigns every entry of values.
func (r *Record) SetMany(values map[string]any) {
	for k, v := range values {
		r.Set(k, v)
	}
}

// IsBlank reports whether the attribute is unset, nil, or an empty string.
func (r *Record) IsBlank(attr string) bool {
	return isBlank(r.Get(attr))
}

// String returns the attribute as a string, or "" when it is not one.
func (r *Record) String(attr string) string {
	s, _ := r.Get(attr).(string)
	return s
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case []any:
		return len(t) == 0
	case []map[string]any:
		return len(t) == 0
	}
	return false
}
