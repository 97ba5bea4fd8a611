package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"
)

// restrictedRelationTargets are never created from an unresolved name.
var restrictedRelationTargets = []string{"User", "Team"}

// RowMapper builds a candidate record from one CSV row.
type RowMapper struct {
	records         RecordStore
	defaultCurrency string
	logger          *slog.Logger

	coercers *coercerCache
}

// NewRowMapper returns a mapper that resolves relations through records
// and backfills currencies with defaultCurrency when a run sets none.
func NewRowMapper(records RecordStore, defaultCurrency string, logger *slog.Logger) *RowMapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RowMapper{
		records:         records,
		defaultCurrency: defaultCurrency,
		logger:          logger,
		coercers:        newCoercerCache(),
	}
}

// Map applies row to target. Default values go first, mapped columns
// override them, then alternate email and phone columns are merged,
// currencies are backfilled and relation names are resolved.
func (m *RowMapper) Map(ctx context.Context, target *Record, def *EntityDef, mapping []string, row []string, opts Options) error {
	opts = opts.WithDefaults()
	coercer := m.coercers.get(opts)

	target.SetMany(opts.DefaultValues)

	rowValues := make(map[string]string, len(mapping))
	for i, attr := range mapping {
		if attr != "" && i < len(row) {
			rowValues[attr] = row[i]
		}
	}
	merger := NewMultiValueMerger(target, rowValues)

	for i, attr := range mapping {
		if attr == "" || i >= len(row) {
			continue
		}
		value := row[i]

		if attr == "id" {
			if opts.Action == ActionCreate {
				target.ID = value
			}
			continue
		}

		ad, declared := def.Attribute(attr)
		if !declared {
			continue
		}

		if value != "" {
			kind := def.FieldKindOf(attr)
			switch {
			case attr == EmailAttr && kind == FieldEmail:
				merger.AddPrimary(EmailAttr, value)
				continue
			case attr == PhoneAttr && kind == FieldPhone:
				merger.AddPrimary(PhoneAttr, value)
				continue
			case kind == FieldPersonName:
				m.applyPersonName(target, def, attr, value, opts.PersonNameFormat)
				continue
			}
		}

		if value == "" && ad.Type != AttrBool {
			continue
		}

		v, err := coercer.Coerce(ad, value)
		if err != nil {
			return fmt.Errorf("column %d (%s): %w", i, attr, err)
		}
		target.Set(attr, v)
	}

	m.mergeAlternates(target, def, mapping, row, merger)
	merger.MirrorPrimary()

	m.backfillCurrency(target, def, opts)

	return m.resolveRelations(ctx, target, def, mapping, opts)
}

// applyPersonName fills the name components that are still blank.
func (m *RowMapper) applyPersonName(target *Record, def *EntityDef, attr, value, format string) {
	parsed := ParsePersonName(value, format)
	for prefix, part := range parsed.Values() {
		component := prefix + ucfirst(attr)
		if !target.IsBlank(component) {
			continue
		}
		ad, _ := def.Attribute(component)
		target.Set(component, Truncate(part, ad.MaxLength))
	}
}

// mergeAlternates handles columns that are not declared attributes:
// emailAddress2..4, phoneNumber2..4 and typed phone columns.
func (m *RowMapper) mergeAlternates(target *Record, def *EntityDef, mapping []string, row []string, merger *MultiValueMerger) {
	phoneColumns := lo.SliceToMap(def.PhoneTypeColumns(), func(c string) (string, bool) { return c, true })
	hasEmail := def.HasAttribute(EmailAttr) && def.HasAttribute(EmailAttr+"Data")
	hasPhone := def.HasAttribute(PhoneAttr) && def.HasAttribute(PhoneAttr+"Data")

	for i, attr := range mapping {
		if attr == "" || i >= len(row) || row[i] == "" || def.HasAttribute(attr) {
			continue
		}
		value := row[i]

		if phoneColumns[attr] {
			merger.AddAlternate(PhoneAttr, value, PhoneTypeLabel(attr))
			continue
		}
		if _, ok := AlternateSlot(attr, EmailAttr); ok && hasEmail {
			merger.AddAlternate(EmailAttr, value, "")
			continue
		}
		if _, ok := AlternateSlot(attr, PhoneAttr); ok && hasPhone {
			merger.AddAlternate(PhoneAttr, value, "")
		}
	}
}

func (m *RowMapper) backfillCurrency(target *Record, def *EntityDef, opts Options) {
	currency := opts.Currency
	if currency == "" {
		currency = m.defaultCurrency
	}
	if currency == "" {
		return
	}
	for _, field := range def.FieldsOfKind(FieldCurrency) {
		if target.Has(field) && target.IsBlank(field+"Currency") {
			target.Set(field+"Currency", currency)
		}
	}
}

// resolveRelations links <relation>Name columns to existing records of the
// related type when no <relation>Id was supplied.
func (m *RowMapper) resolveRelations(ctx context.Context, target *Record, def *EntityDef, mapping []string, opts Options) error {
	for _, attr := range lo.Uniq(lo.Compact(mapping)) {
		ad, ok := def.Attribute(attr)
		if !ok || (ad.Type != AttrForeign && ad.Type != AttrVarchar) || len(ad.Foreign) == 0 {
			continue
		}
		isPerson := lo.Contains(ad.Foreign, "firstName") && lo.Contains(ad.Foreign, "lastName")
		if !isPerson && !(len(ad.Foreign) == 1 && ad.Foreign[0] == "name") {
			continue
		}
		if !target.Has(attr) || attr != ad.Relation+"Name" || target.Has(ad.Relation+"Id") {
			continue
		}
		rel, ok := def.Relations[ad.Relation]
		if !ok || rel.Kind != RelationBelongsTo {
			continue
		}

		name := fmt.Sprint(target.Get(attr))
		filter := Filter{"name": name}
		if isPerson {
			filter = ParsePersonName(name, opts.PersonNameFormat).Filter()
		}

		found, err := m.records.Find(ctx, rel.Entity, filter, 1)
		if err != nil {
			return fmt.Errorf("resolve %s %q: %w", rel.Entity, name, err)
		}
		if len(found) == 0 {
			if lo.Contains(restrictedRelationTargets, rel.Entity) {
				m.logger.Debug("related record not found", "relation", ad.Relation, "entity", rel.Entity, "name", name)
			}
			continue
		}

		target.Set(ad.Relation+"Id", found[0].ID)
		target.Set(ad.Relation+"Name", displayName(found[0]))
	}
	return nil
}

// displayName returns a record's name, composing person names when the
// record has no name attribute.
func displayName(rec *Record) any {
	if !rec.IsBlank("name") {
		return rec.Get("name")
	}
	parts := lo.Compact([]string{rec.String("firstName"), rec.String("lastName")})
	if len(parts) == 0 {
		return nil
	}
	return strings.Join(parts, " ")
}
