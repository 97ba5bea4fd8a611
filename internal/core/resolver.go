package core

import (
	"context"
	"fmt"
	"log/slog"
)

// Reasons a row is skipped by the resolver.
const (
	SkipNoUpdateKey  = "no usable update key"
	SkipNoEditAccess = "no edit access to matched record"
	SkipNoMatch      = "no matching record to update"
)

// Match is the target record chosen for a row. A nil Record means the row
// is skipped for SkipReason.
type Match struct {
	Record     *Record
	SkipReason string
}

// DuplicateResolver decides whether a row creates or updates a record,
// and flags new records that look like duplicates.
type DuplicateResolver struct {
	records  RecordStore
	acl      PermissionChecker
	logger   *slog.Logger
	coercers *coercerCache
}

// NewDuplicateResolver returns a resolver.
func NewDuplicateResolver(records RecordStore, acl PermissionChecker, logger *slog.Logger) *DuplicateResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateResolver{
		records:  records,
		acl:      acl,
		logger:   logger,
		coercers: newCoercerCache(),
	}
}

// Match selects the record a row should be written to.
func (r *DuplicateResolver) Match(ctx context.Context, p Principal, def *EntityDef, mapping []string, row []string, opts Options) (Match, error) {
	opts = opts.WithDefaults()
	if !opts.Action.matches() {
		return Match{Record: NewRecord(def.Name)}, nil
	}

	filter := r.keyFilter(def, mapping, row, opts)
	if len(filter) == 0 {
		return Match{SkipReason: SkipNoUpdateKey}, nil
	}

	found, err := r.records.Find(ctx, def.Name, filter, 1)
	if err != nil {
		return Match{}, fmt.Errorf("find %s by update key: %w", def.Name, err)
	}
	if len(found) > 0 {
		rec := found[0]
		if !p.Admin && !r.acl.CanEdit(ctx, p, def.Name, rec) {
			return Match{SkipReason: SkipNoEditAccess}, nil
		}
		return Match{Record: rec}, nil
	}

	if opts.Action == ActionCreateAndUpdate {
		rec := NewRecord(def.Name)
		if id, ok := filter["id"]; ok {
			rec.Set("id", id)
		}
		return Match{Record: rec}, nil
	}
	return Match{SkipReason: SkipNoMatch}, nil
}

// keyFilter builds the lookup filter from the update-by columns. Values of
// typed attributes are coerced so they compare equal to stored values.
func (r *DuplicateResolver) keyFilter(def *EntityDef, mapping []string, row []string, opts Options) Filter {
	coercer := r.coercers.get(opts)
	filter := Filter{}
	for _, idx := range opts.UpdateBy {
		if idx < 0 || idx >= len(mapping) || mapping[idx] == "" {
			continue
		}
		attr := mapping[idx]
		raw := ""
		if idx < len(row) {
			raw = row[idx]
		}
		filter[attr] = raw

		ad, ok := def.Attribute(attr)
		if !ok || attr == "id" || raw == "" {
			continue
		}
		switch ad.Type {
		case AttrInt, AttrFloat, AttrBool, AttrDate, AttrDatetime:
			if v, err := coercer.Coerce(ad, raw); err == nil {
				filter[attr] = v
			}
		}
	}
	return filter
}

// Commit checks a new record for duplicates, clears any soft-deleted
// record holding its explicit ID, and saves it. Every error returned
// concerns this row only.
func (r *DuplicateResolver) Commit(ctx context.Context, rec *Record, def *EntityDef, opts Options) (*RowOutcome, error) {
	isNew := rec.IsNew()

	duplicate := false
	if isNew && !opts.SkipDuplicateChecking {
		var err error
		duplicate, err = r.IsDuplicate(ctx, rec, def)
		if err != nil {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
	}

	if isNew && rec.ID != "" {
		if err := r.records.Purge(ctx, rec.Type, rec.ID); err != nil {
			return nil, fmt.Errorf("purge deleted %s %s: %w", rec.Type, rec.ID, err)
		}
	}

	err := r.records.Save(ctx, rec, SaveOptions{
		SkipHistory:       true,
		SkipNotifications: true,
		Silent:            opts.SilentMode,
	})
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", rec.Type, err)
	}

	return &RowOutcome{
		EntityType: rec.Type,
		RecordID:   rec.ID,
		Created:    isNew,
		Updated:    !isNew,
		Duplicate:  isNew && duplicate,
	}, nil
}

// IsDuplicate reports whether another live record matches every attribute
// of any duplicate rule. Rules with a blank attribute on rec are ignored.
func (r *DuplicateResolver) IsDuplicate(ctx context.Context, rec *Record, def *EntityDef) (bool, error) {
	for _, rule := range def.DuplicateRules {
		if len(rule) == 0 {
			continue
		}
		filter := Filter{}
		applicable := true
		for _, attr := range rule {
			if rec.IsBlank(attr) {
				applicable = false
				break
			}
			filter[attr] = rec.Get(attr)
		}
		if !applicable {
			continue
		}

		found, err := r.records.Find(ctx, rec.Type, filter, 2)
		if err != nil {
			return false, err
		}
		for _, f := range found {
			if f.ID != rec.ID {
				return true, nil
			}
		}
	}
	return false, nil
}
