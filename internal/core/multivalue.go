package core

import (
	"strconv"
	"strings"
)

// Base attributes of the multi-valued fields.
const (
	EmailAttr = "emailAddress"
	PhoneAttr = "phoneNumber"
)

// MultiValue is one entry of an email or phone list.
type MultiValue struct {
	Value   string
	Type    string
	Primary bool
}

// AlternateSlot reports whether attr names an alternate column of base,
// i.e. base followed by a number from 2 to 4, and returns that number.
func AlternateSlot(attr, base string) (int, bool) {
	if !strings.HasPrefix(attr, base) || attr == base {
		return 0, false
	}
	n, err := strconv.Atoi(attr[len(base):])
	if err != nil || n < 2 || n > 4 {
		return 0, false
	}
	return n, true
}

// PhoneTypeLabel turns a typed phone column such as "phoneNumberHome_Office"
// into its type label "Home Office".
func PhoneTypeLabel(column string) string {
	return strings.ReplaceAll(strings.TrimPrefix(column, PhoneAttr), "_", " ")
}

// MultiValueMerger accumulates email and phone values of a single row onto
// a record's <base>Data list. The first value of a row replaces any list
// the record already had.
type MultiValueMerger struct {
	rec *Record
	// rowHasBase records which base columns carry a value in the row.
	rowHasBase map[string]bool
	started    map[string]bool
}

// NewMultiValueMerger returns a merger writing to rec. rowValues are the
// raw mapped values of the row keyed by attribute.
func NewMultiValueMerger(rec *Record, rowValues map[string]string) *MultiValueMerger {
	return &MultiValueMerger{
		rec: rec,
		rowHasBase: map[string]bool{
			EmailAttr: rowValues[EmailAttr] != "",
			PhoneAttr: rowValues[PhoneAttr] != "",
		},
		started: make(map[string]bool, 2),
	}
}

// AddPrimary appends a value from the base column itself.
func (m *MultiValueMerger) AddPrimary(base, value string) {
	m.rec.Set(base, value)
	m.add(base, MultiValue{Value: value, Primary: true})
}

// AddAlternate appends a value from an alternate or typed column. It is
// primary only when nothing was collected yet and the row left the base
// column empty.
func (m *MultiValueMerger) AddAlternate(base, value, typ string) {
	primary := len(m.List(base)) == 0 && !m.rowHasBase[base]
	m.add(base, MultiValue{Value: value, Type: typ, Primary: primary})
}

// List returns the values collected for base from this row so far.
func (m *MultiValueMerger) List(base string) []MultiValue {
	if !m.started[base] {
		return nil
	}
	return MultiValues(m.rec, base)
}

func (m *MultiValueMerger) add(base string, v MultiValue) {
	var data []any
	if m.started[base] {
		data, _ = m.rec.Get(base + "Data").([]any)
	}
	m.started[base] = true
	entry := map[string]any{
		base:      v.Value,
		"primary": v.Primary,
	}
	if v.Type != "" {
		entry["type"] = v.Type
	}
	m.rec.Set(base+"Data", append(data, entry))
}

// MirrorPrimary copies a promoted alternate onto the base attribute, so
// lookups by emailAddress or phoneNumber see it.
func (m *MultiValueMerger) MirrorPrimary() {
	for _, base := range []string{EmailAttr, PhoneAttr} {
		if m.rowHasBase[base] {
			continue
		}
		for _, v := range m.List(base) {
			if v.Primary {
				m.rec.Set(base, v.Value)
				break
			}
		}
	}
}

// MultiValues decodes the <base>Data list of a record.
func MultiValues(rec *Record, base string) []MultiValue {
	data, _ := rec.Get(base + "Data").([]any)
	out := make([]MultiValue, 0, len(data))
	for _, item := range data {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v := MultiValue{}
		v.Value, _ = entry[base].(string)
		v.Type, _ = entry["type"].(string)
		v.Primary, _ = entry["primary"].(bool)
		out = append(out, v)
	}
	return out
}
