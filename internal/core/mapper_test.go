package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRowMapper_Alternates(t *testing.T) {
	m := NewRowMapper(newMemRecords(), "", nil)
	rec := NewRecord("Contact")
	mapping := []string{"emailAddress2", "phoneNumberMobile", "phoneNumberOffice", "emailAddress"}
	row := []string{"b@x.io", "555-1", "555-2", ""}

	if err := m.Map(context.Background(), rec, contactDef(), mapping, row, Options{}); err != nil {
		t.Fatalf("Map() error = %v", err)
	}

	wantEmails := []MultiValue{{Value: "b@x.io", Primary: true}}
	if got := MultiValues(rec, EmailAttr); !reflect.DeepEqual(got, wantEmails) {
		t.Errorf("emails = %+v, want %+v", got, wantEmails)
	}
	wantPhones := []MultiValue{
		{Value: "555-1", Type: "Mobile", Primary: true},
		{Value: "555-2", Type: "Office"},
	}
	if got := MultiValues(rec, PhoneAttr); !reflect.DeepEqual(got, wantPhones) {
		t.Errorf("phones = %+v, want %+v", got, wantPhones)
	}
	if rec.Get(EmailAttr) != "b@x.io" {
		t.Errorf("emailAddress = %v, want b@x.io", rec.Get(EmailAttr))
	}
	if rec.Get(PhoneAttr) != "555-1" {
		t.Errorf("phoneNumber = %v, want 555-1", rec.Get(PhoneAttr))
	}
}

func TestRowMapper_DefaultsAndTypes(t *testing.T) {
	m := NewRowMapper(newMemRecords(), "EUR", nil)
	rec := NewRecord("Contact")
	opts := Options{
		DefaultValues: map[string]any{"age": int64(99), "doNotCall": true},
		DateFormat:    "DD.MM.YYYY",
		DecimalMark:   ",",
		Currency:      "CHF",
	}
	mapping := []string{"age", "doNotCall", "birthday", "salary"}
	row := []string{"", "", "03.02.1990", "1.234,50"}

	if err := m.Map(context.Background(), rec, contactDef(), mapping, row, opts); err != nil {
		t.Fatalf("Map() error = %v", err)
	}

	tests := []struct {
		attr string
		want any
	}{
		{"age", int64(99)},
		{"doNotCall", false},
		{"birthday", "1990-02-03"},
		{"salary", 1234.5},
		{"salaryCurrency", "CHF"},
	}
	for _, tt := range tests {
		if got := rec.Get(tt.attr); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s = %#v, want %#v", tt.attr, got, tt.want)
		}
	}
}

func TestRowMapper_PersonNameKeepsExistingParts(t *testing.T) {
	m := NewRowMapper(newMemRecords(), "", nil)
	rec := NewRecord("Contact")
	rec.Set("firstName", "Johnny")

	err := m.Map(context.Background(), rec, contactDef(), []string{"name"}, []string{"Smith, John"}, Options{PersonNameFormat: "l, f"})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if rec.Get("firstName") != "Johnny" {
		t.Errorf("firstName = %v, want Johnny", rec.Get("firstName"))
	}
	if rec.Get("lastName") != "Smith" {
		t.Errorf("lastName = %v, want Smith", rec.Get("lastName"))
	}
}

func TestRowMapper_PersonRelationUsesNameFormat(t *testing.T) {
	records := newMemRecords()
	contact := records.put(&Record{Type: "Contact", Attrs: map[string]any{"firstName": "Ann", "lastName": "Lee", "name": "Ann Lee"}})
	m := NewRowMapper(records, "", nil)

	tests := []struct {
		name   string
		value  string
		wantID any
	}{
		{"match", "Lee, Ann", contact.ID},
		{"no match", "Chen, Bo", nil},
		{"wrong order", "Ann Lee", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord("Lead")
			opts := Options{PersonNameFormat: "l, f"}
			if err := m.Map(context.Background(), rec, leadDef(), []string{"assignedContactName"}, []string{tt.value}, opts); err != nil {
				t.Fatalf("Map() error = %v", err)
			}
			if got := rec.Get("assignedContactId"); got != tt.wantID {
				t.Errorf("assignedContactId = %v, want %v", got, tt.wantID)
			}
			wantName := tt.value
			if tt.wantID != nil {
				wantName = "Ann Lee"
			}
			if got := rec.Get("assignedContactName"); got != wantName {
				t.Errorf("assignedContactName = %v, want %v", got, wantName)
			}
		})
	}
}

func TestRowMapper_IDOnlyOnCreate(t *testing.T) {
	m := NewRowMapper(newMemRecords(), "", nil)

	rec := NewRecord("Contact")
	if err := m.Map(context.Background(), rec, contactDef(), []string{"id"}, []string{"c-1"}, Options{Action: ActionCreate}); err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if rec.ID != "c-1" {
		t.Errorf("ID = %q, want c-1", rec.ID)
	}

	rec = NewRecord("Contact")
	if err := m.Map(context.Background(), rec, contactDef(), []string{"id"}, []string{"c-1"}, Options{Action: ActionUpdate}); err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if rec.ID != "" {
		t.Errorf("ID = %q, want empty for update", rec.ID)
	}
}

func TestRowMapper_StructuredValueError(t *testing.T) {
	m := NewRowMapper(newMemRecords(), "", nil)
	err := m.Map(context.Background(), NewRecord("Contact"), contactDef(), []string{"meta"}, []string{"{nope"}, Options{})
	if !errors.Is(err, ErrInvalidStructuredValue) {
		t.Errorf("Map() error = %v, want ErrInvalidStructuredValue", err)
	}
}

func TestDuplicateResolver_IsDuplicate(t *testing.T) {
	store := newMemRecords()
	store.put(&Record{Type: "Contact", Attrs: map[string]any{"firstName": "Ann", "lastName": "Lee"}})
	r := NewDuplicateResolver(store, &allowACL{}, nil)

	tests := []struct {
		name  string
		attrs map[string]any
		want  bool
	}{
		{"same name", map[string]any{"firstName": "Ann", "lastName": "Lee"}, true},
		{"different last name", map[string]any{"firstName": "Ann", "lastName": "Ray"}, false},
		{"blank attribute ignores rule", map[string]any{"firstName": "Ann"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord("Contact")
			rec.SetMany(tt.attrs)
			got, err := r.IsDuplicate(context.Background(), rec, contactDef())
			if err != nil {
				t.Fatalf("IsDuplicate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsDuplicate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDuplicateResolver_CommitPurgesDeletedID(t *testing.T) {
	store := newMemRecords()
	old := store.put(&Record{Type: "Contact", ID: "c-1", Attrs: map[string]any{"age": int64(1)}})
	if err := store.Delete(context.Background(), "Contact", old.ID, SaveOptions{}); err != nil {
		t.Fatal(err)
	}
	r := NewDuplicateResolver(store, &allowACL{}, nil)

	rec := NewRecord("Contact")
	rec.ID = "c-1"
	rec.Set("age", int64(2))
	outcome, err := r.Commit(context.Background(), rec, contactDef(), Options{})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !outcome.Created || outcome.Updated || outcome.RecordID != "c-1" {
		t.Errorf("Commit() = %+v, want created c-1", outcome)
	}

	got, err := store.Get(context.Background(), "Contact", "c-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Get("age") != int64(2) {
		t.Errorf("age = %v, want 2", got.Get("age"))
	}
}

func TestDuplicateResolver_MatchCreateAndUpdateSeedsID(t *testing.T) {
	r := NewDuplicateResolver(newMemRecords(), &allowACL{}, nil)
	m, err := r.Match(context.Background(), SystemPrincipal, contactDef(), []string{"id", "age"}, []string{"c-9", "3"},
		Options{Action: ActionCreateAndUpdate, UpdateBy: []int{0}})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if m.Record == nil || m.Record.ID != "c-9" || !m.Record.IsNew() {
		t.Errorf("Match() = %+v, want new record with ID c-9", m)
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(map[string]any{
		"delimiter":  ";",
		"headerRow":  "true",
		"action":     "update",
		"updateBy":   []any{"0", 2},
		"idleMode":   1,
		"unknownKey": "ignored",
	})
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if opts.Delimiter != ";" || !opts.HeaderRow || opts.Action != ActionUpdate || !opts.IdleMode {
		t.Errorf("ParseOptions() = %+v", opts)
	}
	if !reflect.DeepEqual(opts.UpdateBy, []int{0, 2}) {
		t.Errorf("UpdateBy = %v, want [0 2]", opts.UpdateBy)
	}

	if _, err := ParseOptions(map[string]any{"action": "merge"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ParseOptions(merge) error = %v, want ErrInvalidRequest", err)
	}
}
