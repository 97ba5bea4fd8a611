// Package schema loads entity definitions for the import engine from YAML.
//
// A definition lists user-facing fields. Each field expands into the stored
// attributes the engine works with:
//
//	personName  name, firstName, middleName, lastName
//	email       emailAddress, emailAddressData
//	phone       phoneNumber, phoneNumberData
//	currency    <name>, <name>Currency
//	link        <name>Id, <name>Name and a belongsTo relation
//
// Other field types map to a single attribute of the same name.
package schema

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// Default lengths for attributes created by field expansion.
const (
	DefaultNameLength  = 100
	DefaultEmailLength = 255
	DefaultPhoneLength = 36
)

// DefaultPhoneTypes is used when a phone field lists no types.
var DefaultPhoneTypes = []string{"Mobile", "Office", "Home", "Fax", "Other"}

// File is the top-level structure of a schema file.
type File struct {
	Entities []EntitySpec `yaml:"entities"`
}

// EntitySpec describes one entity type.
type EntitySpec struct {
	Name           string      `yaml:"name"`
	Fields         []FieldSpec `yaml:"fields"`
	DuplicateRules [][]string  `yaml:"duplicateRules"`
}

// FieldSpec describes one field of an entity.
type FieldSpec struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	MaxLength  int      `yaml:"maxLength"`
	PhoneTypes []string `yaml:"phoneTypes"`
	Entity     string   `yaml:"entity"` // target of a link
}

// Field types accepted in schema files besides the core attribute types.
const (
	TypeEmail      = "email"
	TypePhone      = "phone"
	TypePersonName = "personName"
	TypeCurrency   = "currency"
	TypeLink       = "link"
)

var plainTypes = map[string]core.AttributeType{
	"varchar":    core.AttrVarchar,
	"text":       core.AttrText,
	"int":        core.AttrInt,
	"float":      core.AttrFloat,
	"bool":       core.AttrBool,
	"date":       core.AttrDate,
	"datetime":   core.AttrDatetime,
	"jsonObject": core.AttrJSONObject,
	"jsonArray":  core.AttrJSONArray,
}

// expand converts an entity spec to a definition. Link attributes get
// their foreign name columns later, once every entity is known.
func expand(spec EntitySpec) (*core.EntityDef, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("entity without name")
	}

	def := &core.EntityDef{
		Name:       spec.Name,
		Attributes: map[string]core.AttributeDef{"id": {Name: "id", Type: core.AttrID}},
		Fields:     make(map[string]core.FieldDef),
		Relations:  make(map[string]core.RelationDef),
	}

	for _, f := range spec.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("entity %s: field without name", spec.Name)
		}
		if _, exists := def.Fields[f.Name]; exists {
			return nil, fmt.Errorf("entity %s: duplicate field %s", spec.Name, f.Name)
		}
		if err := addField(def, f); err != nil {
			return nil, fmt.Errorf("entity %s: %w", spec.Name, err)
		}
	}

	for _, rule := range spec.DuplicateRules {
		for _, attr := range rule {
			if !def.HasAttribute(attr) {
				return nil, fmt.Errorf("entity %s: duplicate rule uses unknown attribute %s", spec.Name, attr)
			}
		}
		def.DuplicateRules = append(def.DuplicateRules, core.DuplicateRule(rule))
	}

	return def, nil
}

func addField(def *core.EntityDef, f FieldSpec) error {
	attr := func(name string, typ core.AttributeType, maxLen int) {
		def.Attributes[name] = core.AttributeDef{Name: name, Type: typ, MaxLength: maxLen}
	}

	switch f.Type {
	case TypePersonName:
		length := orDefault(f.MaxLength, DefaultNameLength)
		attr(f.Name, core.AttrVarchar, 0)
		for _, prefix := range []string{"first", "middle", "last"} {
			attr(prefix+ucfirst(f.Name), core.AttrVarchar, length)
		}
		def.Fields[f.Name] = core.FieldDef{Name: f.Name, Kind: core.FieldPersonName, MaxLength: length}

	case TypeEmail:
		if f.Name != core.EmailAttr {
			return fmt.Errorf("email field must be named %s, got %s", core.EmailAttr, f.Name)
		}
		length := orDefault(f.MaxLength, DefaultEmailLength)
		attr(f.Name, core.AttrVarchar, length)
		attr(f.Name+"Data", core.AttrJSONArray, 0)
		def.Fields[f.Name] = core.FieldDef{Name: f.Name, Kind: core.FieldEmail, MaxLength: length}

	case TypePhone:
		if f.Name != core.PhoneAttr {
			return fmt.Errorf("phone field must be named %s, got %s", core.PhoneAttr, f.Name)
		}
		length := orDefault(f.MaxLength, DefaultPhoneLength)
		types := f.PhoneTypes
		if len(types) == 0 {
			types = DefaultPhoneTypes
		}
		attr(f.Name, core.AttrVarchar, length)
		attr(f.Name+"Data", core.AttrJSONArray, 0)
		def.Fields[f.Name] = core.FieldDef{
			Name:      f.Name,
			Kind:      core.FieldPhone,
			MaxLength: length,
			TypeList:  append([]string(nil), types...),
		}

	case TypeCurrency:
		attr(f.Name, core.AttrFloat, 0)
		attr(f.Name+"Currency", core.AttrVarchar, 3)
		def.Fields[f.Name] = core.FieldDef{Name: f.Name, Kind: core.FieldCurrency}

	case TypeLink:
		if f.Entity == "" {
			return fmt.Errorf("link %s has no target entity", f.Name)
		}
		def.Attributes[f.Name+"Id"] = core.AttributeDef{Name: f.Name + "Id", Type: core.AttrForeignID, Relation: f.Name}
		def.Attributes[f.Name+"Name"] = core.AttributeDef{Name: f.Name + "Name", Type: core.AttrForeign, Relation: f.Name}
		def.Relations[f.Name] = core.RelationDef{Name: f.Name, Kind: core.RelationBelongsTo, Entity: f.Entity}
		def.Fields[f.Name] = core.FieldDef{Name: f.Name, Kind: core.FieldLink}

	default:
		typ, ok := plainTypes[f.Type]
		if !ok {
			return fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
		}
		attr(f.Name, typ, f.MaxLength)
		def.Fields[f.Name] = core.FieldDef{Name: f.Name, MaxLength: f.MaxLength}
	}
	return nil
}

// linkForeign points each link's name attribute at the display name of the
// target: "name", or first and last name for person entities.
func linkForeign(defs map[string]*core.EntityDef) error {
	for _, def := range defs {
		for relName, rel := range def.Relations {
			target, ok := defs[rel.Entity]
			if !ok {
				return fmt.Errorf("entity %s: link %s targets unknown entity %s", def.Name, relName, rel.Entity)
			}
			foreign := []string{"name"}
			if target.IsPersonEntity() {
				foreign = []string{"firstName", "lastName"}
			}
			ad := def.Attributes[relName+"Name"]
			ad.Foreign = foreign
			def.Attributes[relName+"Name"] = ad
		}
	}
	return nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func ucfirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
