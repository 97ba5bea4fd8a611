package postgres

import (
	"reflect"
	"testing"

	"github.com/JonMunkholm/csvimport/internal/core"
)

func TestFilterClause(t *testing.T) {
	tests := []struct {
		name     string
		filter   core.Filter
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "empty",
			filter:   core.Filter{},
			wantSQL:  "",
			wantArgs: nil,
		},
		{
			name:     "single value",
			filter:   core.Filter{"emailAddress": "a@x.io"},
			wantSQL:  " AND attrs @> $2::jsonb",
			wantArgs: []any{`{"emailAddress":"a@x.io"}`},
		},
		{
			name:     "sorted keys and nil",
			filter:   core.Filter{"lastName": "Smith", "firstName": nil},
			wantSQL:  " AND (attrs->>$2 IS NULL OR attrs->>$2 = '') AND attrs @> $3::jsonb",
			wantArgs: []any{"firstName", `{"lastName":"Smith"}`},
		},
		{
			name:     "id column",
			filter:   core.Filter{"id": "c1", "age": 30},
			wantSQL:  " AND attrs @> $2::jsonb AND id = $3",
			wantArgs: []any{`{"age":30}`, "c1"},
		},
		{
			name:     "nil id",
			filter:   core.Filter{"id": nil},
			wantSQL:  " AND FALSE",
			wantArgs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs, err := filterClause(tt.filter, 2)
			if err != nil {
				t.Fatalf("filterClause() error = %v", err)
			}
			if gotSQL != tt.wantSQL {
				t.Errorf("filterClause() sql = %q, want %q", gotSQL, tt.wantSQL)
			}
			if !reflect.DeepEqual(gotArgs, tt.wantArgs) {
				t.Errorf("filterClause() args = %v, want %v", gotArgs, tt.wantArgs)
			}
		})
	}
}

func TestOutcomeCondition(t *testing.T) {
	tests := []struct {
		kind core.OutcomeKind
		want string
	}{
		{core.OutcomeAll, ""},
		{core.OutcomeImported, " AND is_imported"},
		{core.OutcomeUpdated, " AND is_updated"},
		{core.OutcomeDuplicates, " AND is_duplicate"},
	}
	for _, tt := range tests {
		if got := outcomeCondition(tt.kind); got != tt.want {
			t.Errorf("outcomeCondition(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestEncodeRun(t *testing.T) {
	run := &core.Run{Options: core.Options{Delimiter: ";", HeaderRow: true}}
	mapping, options, err := encodeRun(run)
	if err != nil {
		t.Fatalf("encodeRun() error = %v", err)
	}
	if mapping != "[]" {
		t.Errorf("encodeRun() mapping = %q, want %q", mapping, "[]")
	}
	if want := `{"delimiter":";","headerRow":true}`; options != want {
		t.Errorf("encodeRun() options = %q, want %q", options, want)
	}
}
