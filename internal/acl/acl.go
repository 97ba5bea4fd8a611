// Package acl evaluates import permissions with a casbin enforcer.
//
// Principals, their roles and the role policies are read from a YAML file.
// A policy grants a role actions on an entity type with a scope:
//
//	all  every record of the type
//	own  records whose createdById or assignedUserId is the principal
//
// Admins bypass the enforcer. Inactive principals are denied everything.
package acl

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// Actions checked by the import engine.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// Policy scopes.
const (
	ScopeAll = "all"
	ScopeOwn = "own"

	// request scopes
	scopeAny   = "any"
	scopeOther = "other"
)

// PrincipalSpec is one principal of the policy file.
type PrincipalSpec struct {
	ID     string   `yaml:"id"`
	APIKey string   `yaml:"apiKey"`
	Admin  bool     `yaml:"admin"`
	Active *bool    `yaml:"active"` // defaults to true
	Roles  []string `yaml:"roles"`
}

// PolicySpec grants a role actions on an entity type. Entity "*" matches
// every type.
type PolicySpec struct {
	Role    string   `yaml:"role"`
	Entity  string   `yaml:"entity"`
	Actions []string `yaml:"actions"`
	Scope   string   `yaml:"scope"` // defaults to all
}

// FieldRestriction forbids a role from touching attributes with an action.
type FieldRestriction struct {
	Role       string   `yaml:"role"`
	Entity     string   `yaml:"entity"`
	Action     string   `yaml:"action"`
	Attributes []string `yaml:"attributes"`
}

// File is the structure of a policy file.
type File struct {
	Principals        []PrincipalSpec    `yaml:"principals"`
	Policies          []PolicySpec       `yaml:"policies"`
	FieldRestrictions []FieldRestriction `yaml:"fieldRestrictions"`
}

// Checker implements core.PermissionChecker and core.PrincipalDirectory.
type Checker struct {
	enforcer     *casbin.SyncedEnforcer
	mu           sync.RWMutex
	principals   map[string]core.Principal
	apiKeys      map[string]string // principal ID -> key
	restrictions []FieldRestriction
}

func newModel() model.Model {
	m := model.NewModel()
	m.AddDef("r", "r", "sub, obj, act, scope")
	m.AddDef("p", "p", "sub, obj, act, scope")
	m.AddDef("g", "g", "_, _")
	m.AddDef("e", "e", "some(where (p.eft == allow))")
	m.AddDef("m", "m", `g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act) && (p.scope == "all" || r.scope == "any" || r.scope == p.scope)`)
	return m
}

// New builds a checker from a parsed policy file.
func New(f File) (*Checker, error) {
	enforcer, err := casbin.NewSyncedEnforcer(newModel())
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	c := &Checker{
		enforcer:     enforcer,
		principals:   make(map[string]core.Principal, len(f.Principals)),
		apiKeys:      make(map[string]string, len(f.Principals)),
		restrictions: f.FieldRestrictions,
	}

	for _, ps := range f.Principals {
		if ps.ID == "" {
			return nil, fmt.Errorf("principal without id")
		}
		if _, exists := c.principals[ps.ID]; exists {
			return nil, fmt.Errorf("principal defined twice: %s", ps.ID)
		}
		c.principals[ps.ID] = core.Principal{
			ID:     ps.ID,
			Admin:  ps.Admin,
			Active: ps.Active == nil || *ps.Active,
			Roles:  append([]string(nil), ps.Roles...),
		}
		if ps.APIKey != "" {
			c.apiKeys[ps.ID] = ps.APIKey
		}
		for _, role := range ps.Roles {
			if _, err := enforcer.AddGroupingPolicy(ps.ID, role); err != nil {
				return nil, fmt.Errorf("assign role %s to %s: %w", role, ps.ID, err)
			}
		}
	}

	for _, p := range f.Policies {
		if err := c.AddPolicy(p); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Load reads a policy file.
func Load(path string) (*Checker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse builds a checker from YAML.
func Parse(data []byte) (*Checker, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return New(f)
}

// AddPolicy grants a role actions on an entity type.
func (c *Checker) AddPolicy(p PolicySpec) error {
	if p.Role == "" || p.Entity == "" || len(p.Actions) == 0 {
		return fmt.Errorf("policy needs role, entity and actions: %+v", p)
	}
	scope := p.Scope
	if scope == "" {
		scope = ScopeAll
	}
	if scope != ScopeAll && scope != ScopeOwn {
		return fmt.Errorf("policy for %s on %s has unknown scope %q", p.Role, p.Entity, scope)
	}
	for _, act := range p.Actions {
		if _, err := c.enforcer.AddPolicy(p.Role, p.Entity, act, scope); err != nil {
			return fmt.Errorf("add policy %s %s %s: %w", p.Role, p.Entity, act, err)
		}
	}
	return nil
}

func (c *Checker) allowed(p core.Principal, entityType, action string, rec *core.Record) bool {
	if !p.Active {
		return false
	}
	if p.Admin {
		return true
	}
	ok, err := c.enforcer.Enforce(p.ID, entityType, action, requestScope(p, rec))
	return err == nil && ok
}

func requestScope(p core.Principal, rec *core.Record) string {
	if rec == nil {
		return scopeAny
	}
	if rec.String("createdById") == p.ID || rec.String("assignedUserId") == p.ID {
		return ScopeOwn
	}
	return scopeOther
}

// CanRead reports whether p may read rec, or any record of the type when
// rec is nil.
func (c *Checker) CanRead(_ context.Context, p core.Principal, entityType string, rec *core.Record) bool {
	return c.allowed(p, entityType, ActionRead, rec)
}

// CanEdit reports whether p may edit rec.
func (c *Checker) CanEdit(_ context.Context, p core.Principal, entityType string, rec *core.Record) bool {
	return c.allowed(p, entityType, ActionEdit, rec)
}

// CanCreate reports whether p may create records of the type.
func (c *Checker) CanCreate(_ context.Context, p core.Principal, entityType string) bool {
	return c.allowed(p, entityType, ActionCreate, nil)
}

// CanDelete reports whether p may delete rec.
func (c *Checker) CanDelete(_ context.Context, p core.Principal, entityType string, rec *core.Record) bool {
	return c.allowed(p, entityType, ActionDelete, rec)
}

// ForbiddenAttributes lists the attributes restricted for any of p's roles.
func (c *Checker) ForbiddenAttributes(_ context.Context, p core.Principal, entityType, action string) []string {
	if p.Admin {
		return nil
	}
	var attrs []string
	for _, r := range c.restrictions {
		if r.Entity != entityType || r.Action != action || !lo.Contains(p.Roles, r.Role) {
			continue
		}
		attrs = append(attrs, r.Attributes...)
	}
	return lo.Uniq(attrs)
}

// LookupPrincipal returns a principal by ID.
func (c *Checker) LookupPrincipal(_ context.Context, id string) (core.Principal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.principals[id]
	if !ok {
		return core.Principal{}, fmt.Errorf("principal %s: %w", id, core.ErrNotFound)
	}
	return p, nil
}

// Authenticate returns the principal holding apiKey.
func (c *Checker) Authenticate(apiKey string) (core.Principal, error) {
	if apiKey == "" {
		return core.Principal{}, fmt.Errorf("missing api key: %w", core.ErrPermissionDenied)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var match string
	for id, key := range c.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			match = id
		}
	}
	if match == "" {
		return core.Principal{}, fmt.Errorf("unknown api key: %w", core.ErrPermissionDenied)
	}
	p := c.principals[match]
	if !p.Active {
		return core.Principal{}, fmt.Errorf("principal %s is not active: %w", p.ID, core.ErrPermissionDenied)
	}
	return p, nil
}
