package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRecords is an in-memory RecordStore with soft deletes.
type memRecords struct {
	mu      sync.Mutex
	seq     int
	rows    map[string]map[string]*storedRecord
	saveErr func(rec *Record) error
	findErr func(filter Filter) error
}

type storedRecord struct {
	rec *Record
	seq int
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[string]map[string]*storedRecord)}
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Attrs = make(map[string]any, len(r.Attrs))
	for k, v := range r.Attrs {
		c.Attrs[k] = v
	}
	return &c
}

func (m *memRecords) Get(_ context.Context, entityType, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[entityType][id]
	if !ok || s.rec.Deleted {
		return nil, ErrNotFound
	}
	return copyRecord(s.rec), nil
}

func (m *memRecords) Find(_ context.Context, entityType string, filter Filter, limit int) ([]*Record, error) {
	if m.findErr != nil {
		if err := m.findErr(filter); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*storedRecord
	for _, s := range m.rows[entityType] {
		if s.rec.Deleted || !matchesFilter(s.rec, filter) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	var out []*Record
	for _, s := range matched {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyRecord(s.rec))
	}
	return out, nil
}

func matchesFilter(rec *Record, filter Filter) bool {
	for attr, want := range filter {
		got := rec.Get(attr)
		if want == nil {
			if got != nil && got != "" {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, want) && fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (m *memRecords) Save(_ context.Context, rec *Record, _ SaveOptions) error {
	if m.saveErr != nil {
		if err := m.saveErr(rec); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rows[rec.Type] == nil {
		m.rows[rec.Type] = make(map[string]*storedRecord)
	}
	if rec.IsNew() {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if _, exists := m.rows[rec.Type][rec.ID]; exists {
			return fmt.Errorf("duplicate key %s", rec.ID)
		}
		m.seq++
		rec.Persisted = true
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		m.rows[rec.Type][rec.ID] = &storedRecord{rec: copyRecord(rec), seq: m.seq}
		return nil
	}

	s, ok := m.rows[rec.Type][rec.ID]
	if !ok || s.rec.Deleted {
		return ErrNotFound
	}
	s.rec = copyRecord(rec)
	return nil
}

func (m *memRecords) Delete(_ context.Context, entityType, id string, _ SaveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[entityType][id]
	if !ok {
		return ErrNotFound
	}
	s.rec.Deleted = true
	return nil
}

func (m *memRecords) Purge(_ context.Context, entityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[entityType][id]; ok && s.rec.Deleted {
		delete(m.rows[entityType], id)
	}
	return nil
}

// put stores a record directly, bypassing Save.
func (m *memRecords) put(rec *Record) *Record {
	rec.Persisted = false
	if err := m.Save(context.Background(), rec, SaveOptions{}); err != nil {
		panic(err)
	}
	return rec
}

// live returns every live record of entityType in insertion order.
func (m *memRecords) live(entityType string) []*Record {
	recs, _ := m.Find(context.Background(), entityType, nil, 0)
	return recs
}

// exists reports whether id is stored at all, deleted or not.
func (m *memRecords) exists(entityType, id string) (stored, deleted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[entityType][id]
	if !ok {
		return false, false
	}
	return true, s.rec.Deleted
}

// memRuns is an in-memory RunRepository.
type memRuns struct {
	mu       sync.Mutex
	runs     map[string]*Run
	outcomes []RowOutcome

	// failRecordAfter makes RecordRow fail once this many outcomes exist.
	failRecordAfter int
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[string]*Run)}
}

func copyRun(r *Run) *Run {
	c := *r
	c.Mapping = append([]string(nil), r.Mapping...)
	c.Options = r.Options.Clone()
	if r.LastIndex != nil {
		idx := *r.LastIndex
		c.LastIndex = &idx
	}
	return &c
}

func (m *memRuns) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = copyRun(run)
	return nil
}

func (m *memRuns) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

func (m *memRuns) ListRunsByStatus(_ context.Context, status RunStatus) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Run
	for _, run := range m.runs {
		if run.Status == status {
			out = append(out, copyRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memRuns) UpdateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyRun(run)
	// The checkpoint only moves through RecordRow.
	updated.LastIndex = stored.LastIndex
	m.runs[run.ID] = updated
	return nil
}

func (m *memRuns) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	kept := m.outcomes[:0]
	for _, o := range m.outcomes {
		if o.RunID != id {
			kept = append(kept, o)
		}
	}
	m.outcomes = kept
	return nil
}

func (m *memRuns) RecordRow(_ context.Context, o RowOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecordAfter > 0 && len(m.outcomes) >= m.failRecordAfter {
		return errors.New("connection reset by peer")
	}
	run, ok := m.runs[o.RunID]
	if !ok {
		return ErrNotFound
	}
	m.outcomes = append(m.outcomes, o)
	if run.LastIndex == nil || *run.LastIndex < o.RowIndex {
		idx := o.RowIndex
		run.LastIndex = &idx
	}
	return nil
}

func (m *memRuns) ListOutcomes(_ context.Context, runID string, kind OutcomeKind) ([]RowOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RowOutcome
	for _, o := range m.outcomes {
		if o.RunID == runID && kind.Matches(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memRuns) CountOutcomes(ctx context.Context, runID string) (OutcomeCounts, error) {
	all, _ := m.ListOutcomes(ctx, runID, OutcomeAll)
	var c OutcomeCounts
	for _, o := range all {
		if o.Created {
			c.Imported++
		}
		if o.Updated {
			c.Updated++
		}
		if o.Duplicate {
			c.Duplicates++
		}
	}
	return c, nil
}

func (m *memRuns) SetDuplicateFlag(_ context.Context, runID, entityType, recordID string, duplicate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.outcomes {
		if o.RunID == runID && o.EntityType == entityType && o.RecordID == recordID {
			m.outcomes[i].Duplicate = duplicate
			return nil
		}
	}
	return ErrNotFound
}

// allowACL grants everything except what is listed.
type allowACL struct {
	forbidden  []string
	denyCreate bool
	denyDelete bool
	denyRead   bool
	noEditIDs  map[string]bool
}

func (a *allowACL) CanRead(context.Context, Principal, string, *Record) bool { return !a.denyRead }

func (a *allowACL) CanEdit(_ context.Context, _ Principal, _ string, rec *Record) bool {
	return rec == nil || !a.noEditIDs[rec.ID]
}

func (a *allowACL) CanCreate(context.Context, Principal, string) bool { return !a.denyCreate }

func (a *allowACL) CanDelete(context.Context, Principal, string, *Record) bool { return !a.denyDelete }

func (a *allowACL) ForbiddenAttributes(context.Context, Principal, string, string) []string {
	return a.forbidden
}

// mapSchema serves entity definitions from a map.
type mapSchema map[string]*EntityDef

func (s mapSchema) Entity(entityType string) (*EntityDef, error) {
	if def, ok := s[entityType]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("unknown entity type %q: %w", entityType, ErrNotFound)
}

// memBlobs is an in-memory BlobStore.
type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[string][]byte)}
}

func (b *memBlobs) GetContents(_ context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (b *memBlobs) Put(_ context.Context, _ string, contents []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.files[id] = append([]byte(nil), contents...)
	return id, nil
}

// memQueue records enqueued jobs.
type memQueue struct {
	jobs []IdleJob
}

func (q *memQueue) Enqueue(_ context.Context, job IdleJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

// memPrincipals is a fixed PrincipalDirectory.
type memPrincipals map[string]Principal

func (d memPrincipals) LookupPrincipal(_ context.Context, id string) (Principal, error) {
	p, ok := d[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

// contactDef is a person entity with the field kinds the mapper handles.
func contactDef() *EntityDef {
	return &EntityDef{
		Name: "Contact",
		Attributes: map[string]AttributeDef{
			"id":               {Name: "id", Type: AttrID},
			"name":             {Name: "name", Type: AttrVarchar},
			"firstName":        {Name: "firstName", Type: AttrVarchar, MaxLength: 100},
			"middleName":       {Name: "middleName", Type: AttrVarchar, MaxLength: 100},
			"lastName":         {Name: "lastName", Type: AttrVarchar, MaxLength: 100},
			"age":              {Name: "age", Type: AttrInt},
			"emailAddress":     {Name: "emailAddress", Type: AttrVarchar},
			"emailAddressData": {Name: "emailAddressData", Type: AttrJSONArray},
			"phoneNumber":      {Name: "phoneNumber", Type: AttrVarchar},
			"phoneNumberData":  {Name: "phoneNumberData", Type: AttrJSONArray},
			"doNotCall":        {Name: "doNotCall", Type: AttrBool},
			"birthday":         {Name: "birthday", Type: AttrDate},
			"salary":           {Name: "salary", Type: AttrFloat},
			"salaryCurrency":   {Name: "salaryCurrency", Type: AttrVarchar, MaxLength: 3},
			"meta":             {Name: "meta", Type: AttrJSONObject},
			"accountId":        {Name: "accountId", Type: AttrForeignID, Relation: "account"},
			"accountName":      {Name: "accountName", Type: AttrForeign, Relation: "account", Foreign: []string{"name"}},
		},
		Fields: map[string]FieldDef{
			"name":         {Name: "name", Kind: FieldPersonName},
			"emailAddress": {Name: "emailAddress", Kind: FieldEmail},
			"phoneNumber":  {Name: "phoneNumber", Kind: FieldPhone, TypeList: []string{"Mobile", "Office"}},
			"salary":       {Name: "salary", Kind: FieldCurrency},
			"account":      {Name: "account", Kind: FieldLink},
		},
		Relations: map[string]RelationDef{
			"account": {Name: "account", Kind: RelationBelongsTo, Entity: "Account"},
		},
		DuplicateRules: []DuplicateRule{
			{"emailAddress"},
			{"firstName", "lastName"},
		},
	}
}

func accountDef() *EntityDef {
	return &EntityDef{
		Name: "Account",
		Attributes: map[string]AttributeDef{
			"id":   {Name: "id", Type: AttrID},
			"name": {Name: "name", Type: AttrVarchar},
		},
		DuplicateRules: []DuplicateRule{{"name"}},
	}
}

// leadDef links a lead to a contact by the contact's person name.
func leadDef() *EntityDef {
	return &EntityDef{
		Name: "Lead",
		Attributes: map[string]AttributeDef{
			"id":                  {Name: "id", Type: AttrID},
			"name":                {Name: "name", Type: AttrVarchar},
			"assignedContactId":   {Name: "assignedContactId", Type: AttrForeignID, Relation: "assignedContact"},
			"assignedContactName": {Name: "assignedContactName", Type: AttrForeign, Relation: "assignedContact", Foreign: []string{"firstName", "lastName"}},
		},
		Fields: map[string]FieldDef{
			"assignedContact": {Name: "assignedContact", Kind: FieldLink},
		},
		Relations: map[string]RelationDef{
			"assignedContact": {Name: "assignedContact", Kind: RelationBelongsTo, Entity: "Contact"},
		},
	}
}

// harness wires an Importer to in-memory collaborators.
type harness struct {
	records    *memRecords
	runs       *memRuns
	acl        *allowACL
	blobs      *memBlobs
	queue      *memQueue
	principals memPrincipals
	importer   *Importer
	now        time.Time
}

func newHarness() *harness {
	h := &harness{
		records:    newMemRecords(),
		runs:       newMemRuns(),
		acl:        &allowACL{},
		blobs:      newMemBlobs(),
		queue:      &memQueue{},
		principals: memPrincipals{},
		now:        time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	im, err := NewImporter(Deps{
		Records:         h.records,
		Runs:            h.runs,
		Schema:          mapSchema{"Contact": contactDef(), "Account": accountDef(), "Lead": leadDef()},
		ACL:             h.acl,
		Blobs:           h.blobs,
		Jobs:            h.queue,
		Principals:      h.principals,
		DefaultCurrency: "USD",
		Now:             func() time.Time { return h.now },
	})
	if err != nil {
		panic(err)
	}
	h.importer = im
	return h
}

func (h *harness) upload(contents string) string {
	id, err := h.blobs.Put(context.Background(), "test.csv", []byte(contents))
	if err != nil {
		panic(err)
	}
	return id
}
