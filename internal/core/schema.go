package core

import (
	"strings"
)

// AttributeType is the storage type of an attribute.
type AttributeType string

const (
	AttrID         AttributeType = "id"
	AttrVarchar    AttributeType = "varchar"
	AttrText       AttributeType = "text"
	AttrInt        AttributeType = "int"
	AttrFloat      AttributeType = "float"
	AttrBool       AttributeType = "bool"
	AttrDate       AttributeType = "date"
	AttrDatetime   AttributeType = "datetime"
	AttrJSONObject AttributeType = "jsonObject"
	AttrJSONArray  AttributeType = "jsonArray"
	AttrForeignID  AttributeType = "foreignId"
	AttrForeign    AttributeType = "foreign"
)

// FieldKind is the user-facing field type an attribute belongs to. Only the
// kinds with import-specific handling are distinguished.
type FieldKind string

const (
	FieldPlain      FieldKind = ""
	FieldEmail      FieldKind = "email"
	FieldPhone      FieldKind = "phone"
	FieldPersonName FieldKind = "personName"
	FieldCurrency   FieldKind = "currency"
	FieldLink       FieldKind = "link"
)

// RelationKind describes the cardinality of a relation.
type RelationKind string

const (
	RelationBelongsTo RelationKind = "belongsTo"
	RelationHasMany   RelationKind = "hasMany"
)

// AttributeDef describes one stored attribute.
type AttributeDef struct {
	Name      string
	Type      AttributeType
	MaxLength int      // 0 means unbounded
	Relation  string   // Relation name for foreign attributes
	Foreign   []string // Attribute(s) on the related entity; two entries for person names
}

// FieldDef describes a user-facing field.
type FieldDef struct {
	Name      string
	Kind      FieldKind
	MaxLength int
	TypeList  []string // Phone number types
}

// RelationDef describes a relation to another entity type.
type RelationDef struct {
	Name   string
	Kind   RelationKind
	Entity string
}

// DuplicateRule lists attributes that must all match for a record to be
// considered a duplicate.
type DuplicateRule []string

// EntityDef is the schema of one entity type.
type EntityDef struct {
	Name           string
	Attributes     map[string]AttributeDef
	Fields         map[string]FieldDef
	Relations      map[string]RelationDef
	DuplicateRules []DuplicateRule
}

// Attribute returns the definition of a declared attribute.
func (d *EntityDef) Attribute(name string) (AttributeDef, bool) {
	a, ok := d.Attributes[name]
	return a, ok
}

// HasAttribute reports whether the attribute is declared.
func (d *EntityDef) HasAttribute(name string) bool {
	_, ok := d.Attributes[name]
	return ok
}

// FieldKindOf returns the kind of a declared field, or FieldPlain.
func (d *EntityDef) FieldKindOf(name string) FieldKind {
	if f, ok := d.Fields[name]; ok {
		return f.Kind
	}
	return FieldPlain
}

// FieldsOfKind returns the names of fields of the given kind.
func (d *EntityDef) FieldsOfKind(kind FieldKind) []string {
	var names []string
	for name, f := range d.Fields {
		if f.Kind == kind {
			names = append(names, name)
		}
	}
	return names
}

// PhoneTypeColumns returns the typed phone column names, e.g.
// "phoneNumberMobile" or "phoneNumberHome_Office".
func (d *EntityDef) PhoneTypeColumns() []string {
	f, ok := d.Fields["phoneNumber"]
	if !ok || f.Kind != FieldPhone {
		return nil
	}
	cols := make([]string, 0, len(f.TypeList))
	for _, t := range f.TypeList {
		cols = append(cols, "phoneNumber"+strings.ReplaceAll(ucfirst(t), " ", "_"))
	}
	return cols
}

// IsPersonEntity reports whether the entity's name is a person name.
func (d *EntityDef) IsPersonEntity() bool {
	return d.FieldKindOf("name") == FieldPersonName
}

func ucfirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
