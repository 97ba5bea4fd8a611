package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createOpts() Options {
	return Options{Action: ActionCreate, PersonNameFormat: "f l"}
}

func TestRun_PersonNameAndSkippedColumn(t *testing.T) {
	h := newHarness()
	ref := h.upload("\"John Smith\",,\"30\"\n")

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "", "age"},
		AttachmentID: ref,
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 1, res.Created)

	recs := h.records.live("Contact")
	require.Len(t, recs, 1)
	assert.Equal(t, "John", recs[0].Get("firstName"))
	assert.Equal(t, "Smith", recs[0].Get("lastName"))
	assert.Equal(t, int64(30), recs[0].Get("age"))
}

func TestRun_HeaderRowAndCounts(t *testing.T) {
	h := newHarness()
	ref := h.upload("Name,Email,Salary\r\nAda Lovelace,ada@x.io,100\r\nAlan Turing,alan@x.io,\r\n")

	opts := createOpts()
	opts.HeaderRow = true
	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "emailAddress", "salary"},
		AttachmentID: ref,
		Options:      opts,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Duplicates)

	ada, err := h.records.Find(context.Background(), "Contact", Filter{"emailAddress": "ada@x.io"}, 1)
	require.NoError(t, err)
	require.Len(t, ada, 1)
	assert.Equal(t, 100.0, ada[0].Get("salary"))
	assert.Equal(t, "USD", ada[0].Get("salaryCurrency"))

	alan, err := h.records.Find(context.Background(), "Contact", Filter{"emailAddress": "alan@x.io"}, 1)
	require.NoError(t, err)
	require.Len(t, alan, 1)
	assert.False(t, alan[0].Has("salaryCurrency"), "currency is only backfilled for amounts present in the row")

	run, err := h.runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.LastIndex)
	assert.Equal(t, 2, *run.LastIndex)
	assert.Equal(t, StatusComplete, run.Status)
}

func TestRun_EmptyRowBoundary(t *testing.T) {
	tests := []struct {
		name        string
		mapping     []string
		contents    string
		wantCreated int
	}{
		{
			name:        "dropped with two mapped attributes",
			mapping:     []string{"name", "age"},
			contents:    "Ann Lee,1\n\nBo Chen,2\n",
			wantCreated: 2,
		},
		{
			name:        "kept with one mapped attribute",
			mapping:     []string{"name"},
			contents:    "Ann Lee\n\nBo Chen\n",
			wantCreated: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			opts := createOpts()
			opts.SkipDuplicateChecking = true
			res, err := h.importer.Run(context.Background(), RunRequest{
				EntityType:   "Contact",
				Mapping:      tt.mapping,
				AttachmentID: h.upload(tt.contents),
				Options:      opts,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, res.Created)
		})
	}
}

func TestRun_CreateFlagsDuplicates(t *testing.T) {
	h := newHarness()
	contents := "Ann Lee,ann@x.io\n"

	first, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "emailAddress"},
		AttachmentID: h.upload(contents),
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, first.Duplicates)

	second, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "emailAddress"},
		AttachmentID: h.upload(contents),
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Created, "create mode always creates")
	assert.Equal(t, 1, second.Duplicates)
	assert.Len(t, h.records.live("Contact"), 2)

	counts, err := h.runs.CountOutcomes(context.Background(), second.RunID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCounts{Imported: 1, Duplicates: 1}, counts)
}

func TestRun_SkipDuplicateChecking(t *testing.T) {
	h := newHarness()
	h.records.put(&Record{Type: "Contact", Attrs: map[string]any{"emailAddress": "ann@x.io"}})

	opts := createOpts()
	opts.SkipDuplicateChecking = true
	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"emailAddress"},
		AttachmentID: h.upload("ann@x.io\n"),
		Options:      opts,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Duplicates)
}

func TestRun_UpdateIsIdempotent(t *testing.T) {
	h := newHarness()
	contents := "ann@x.io,Ann Lee,41\nbo@x.io,Bo Chen,33\n"
	mapping := []string{"emailAddress", "name", "age"}
	opts := Options{Action: ActionCreateAndUpdate, UpdateBy: []int{0}, PersonNameFormat: "f l"}

	for i := 0; i < 3; i++ {
		res, err := h.importer.Run(context.Background(), RunRequest{
			EntityType:   "Contact",
			Mapping:      mapping,
			AttachmentID: h.upload(contents),
			Options:      opts,
		})
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, 2, res.Created)
		} else {
			assert.Equal(t, 0, res.Created, "pass %d", i)
			assert.Equal(t, 2, res.Updated, "pass %d", i)
		}
	}

	recs := h.records.live("Contact")
	require.Len(t, recs, 2)
	assert.Len(t, MultiValues(recs[0], EmailAttr), 1)
}

func TestRun_UpdateModeSkipsUnmatched(t *testing.T) {
	h := newHarness()
	existing := h.records.put(&Record{Type: "Contact", Attrs: map[string]any{"emailAddress": "ann@x.io", "age": int64(20)}})

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"emailAddress", "age"},
		AttachmentID: h.upload("ann@x.io,21\nnobody@x.io,50\n,60\n"),
		Options:      Options{Action: ActionUpdate, UpdateBy: []int{0}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Skipped)

	got, err := h.records.Get(context.Background(), "Contact", existing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(21), got.Get("age"))
}

func TestRun_UpdateWithoutEditAccess(t *testing.T) {
	h := newHarness()
	existing := h.records.put(&Record{Type: "Contact", Attrs: map[string]any{"emailAddress": "ann@x.io", "age": int64(20)}})
	h.acl.noEditIDs = map[string]bool{existing.ID: true}

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"emailAddress", "age"},
		AttachmentID: h.upload("ann@x.io,99\n"),
		Options:      Options{Action: ActionUpdate, UpdateBy: []int{0}},
		Principal:    &Principal{ID: "u1", Active: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	got, err := h.records.Get(context.Background(), "Contact", existing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Get("age"))
}

func TestRun_ResumeEquivalence(t *testing.T) {
	var lines []string
	for i := 1; i <= 6; i++ {
		lines = append(lines, fmt.Sprintf("Person%d Test,p%d@x.io,%d", i, i, 20+i))
	}
	contents := strings.Join(lines, "\n") + "\n"
	mapping := []string{"name", "emailAddress", "age"}

	full := newHarness()
	_, err := full.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      mapping,
		AttachmentID: full.upload(contents),
		Options:      createOpts(),
	})
	require.NoError(t, err)

	h := newHarness()
	h.records.findErr = func(filter Filter) error {
		if filter["emailAddress"] == "p4@x.io" {
			return context.Canceled
		}
		return nil
	}
	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      mapping,
		AttachmentID: h.upload(contents),
		Options:      createOpts(),
	})
	require.NoError(t, err, "a stopped run reports its status, not an error")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Created)

	run, err := h.runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.LastIndex)
	assert.Equal(t, 2, *run.LastIndex)

	_, err = h.importer.Resume(context.Background(), nil, res.RunID, true, false)
	assert.ErrorIs(t, err, ErrInvalidRequest, "a failed run needs force")

	h.records.findErr = nil
	resumed, err := h.importer.Resume(context.Background(), nil, res.RunID, true, true)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, resumed.Status)
	assert.Equal(t, res.RunID, resumed.RunID)
	assert.Equal(t, 3, resumed.Created)
	assert.Equal(t, 0, resumed.Duplicates)

	emails := func(recs []*Record) []string {
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.String("emailAddress"))
		}
		return out
	}
	assert.ElementsMatch(t, emails(full.records.live("Contact")), emails(h.records.live("Contact")))

	counts, err := h.runs.CountOutcomes(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 6, counts.Imported)
}

func TestRun_OutcomeWriteFailureStopsRun(t *testing.T) {
	h := newHarness()
	h.runs.failRecordAfter = 1

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "age"},
		AttachmentID: h.upload("Ann Lee,1\nBo Chen,2\nCy Diaz,3\n"),
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Created)

	run, err := h.runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.LastIndex)
	assert.Equal(t, 0, *run.LastIndex, "the checkpoint stays at the last recorded row")
}

func TestRun_ManualMode(t *testing.T) {
	h := newHarness()
	ref := h.upload("Ann Lee\n")

	opts := createOpts()
	opts.ManualMode = true
	opts.IdleMode = true
	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: ref,
		Options:      opts,
	})
	require.NoError(t, err)
	assert.True(t, res.ManualMode)
	assert.Equal(t, StatusStandby, res.Status)
	assert.Empty(t, h.queue.jobs, "manual mode ignores idle mode")
	assert.Empty(t, h.records.live("Contact"))

	resumed, err := h.importer.Resume(context.Background(), nil, res.RunID, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.Created)
	assert.Equal(t, StatusComplete, resumed.Status)

	_, err = h.importer.Resume(context.Background(), nil, res.RunID, false, true)
	assert.ErrorIs(t, err, ErrInvalidRequest, "complete runs cannot be resumed")
}

func TestRun_IdleMode(t *testing.T) {
	h := newHarness()
	h.principals["u1"] = Principal{ID: "u1", Active: true}
	ref := h.upload("Ann Lee\nBo Chen\n")

	opts := createOpts()
	opts.IdleMode = true
	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: ref,
		Options:      opts,
		Principal:    &Principal{ID: "u1", Active: true},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Zero(t, res.Created)
	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, IdleJob{RunID: res.RunID, PrincipalID: "u1"}, h.queue.jobs[0])

	require.NoError(t, h.importer.RunIdle(context.Background(), h.queue.jobs[0]))
	assert.Len(t, h.records.live("Contact"), 2)
	assert.Len(t, h.queue.jobs, 1, "the worker run is not queued again")

	run, err := h.runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, run.Status)
}

func TestRequeuePending(t *testing.T) {
	h := newHarness()
	h.principals["u1"] = Principal{ID: "u1", Active: true}

	idle := createOpts()
	idle.IdleMode = true
	pending, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: h.upload("Ann Lee\nBo Chen\n"),
		Options:      idle,
		Principal:    &Principal{ID: "u1", Active: true},
	})
	require.NoError(t, err)

	manual := createOpts()
	manual.ManualMode = true
	_, err = h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: h.upload("Cy Diaz\n"),
		Options:      manual,
	})
	require.NoError(t, err)

	// A restart loses whatever the queue held.
	h.queue.jobs = nil

	n, err := h.importer.RequeuePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, IdleJob{RunID: pending.RunID, PrincipalID: "u1"}, h.queue.jobs[0])

	require.NoError(t, h.importer.RunIdle(context.Background(), h.queue.jobs[0]))
	run, err := h.runs.GetRun(context.Background(), pending.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, run.Status)

	n, err = h.importer.RequeuePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "finished runs are not queued again")
}

func TestRunIdle_SystemPrincipal(t *testing.T) {
	h := newHarness()
	opts := createOpts()
	opts.IdleMode = true
	_, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: h.upload("Ann Lee\n"),
		Options:      opts,
	})
	require.NoError(t, err)
	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, SystemPrincipal.ID, h.queue.jobs[0].PrincipalID)

	require.NoError(t, h.importer.RunIdle(context.Background(), h.queue.jobs[0]))
	assert.Len(t, h.records.live("Contact"), 1)
}

func TestResume_PendingIsLeftToTheQueue(t *testing.T) {
	h := newHarness()
	opts := createOpts()
	opts.IdleMode = true
	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: h.upload("Ann Lee\nBo Chen\n"),
		Options:      opts,
	})
	require.NoError(t, err)
	h.queue.jobs = nil

	for _, force := range []bool{false, true} {
		_, err = h.importer.Resume(context.Background(), nil, res.RunID, true, force)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	n, err := h.importer.RequeuePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, h.importer.RunIdle(context.Background(), h.queue.jobs[0]))
	assert.Len(t, h.records.live("Contact"), 2)
}

func TestRunIdle_Errors(t *testing.T) {
	h := newHarness()
	h.principals["off"] = Principal{ID: "off", Active: false}

	err := h.importer.RunIdle(context.Background(), IdleJob{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = h.importer.RunIdle(context.Background(), IdleJob{RunID: "r", PrincipalID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.importer.RunIdle(context.Background(), IdleJob{RunID: "r", PrincipalID: "off"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRun_Permissions(t *testing.T) {
	t.Run("create denied", func(t *testing.T) {
		h := newHarness()
		h.acl.denyCreate = true
		_, err := h.importer.Run(context.Background(), RunRequest{
			EntityType:   "Contact",
			Mapping:      []string{"name"},
			AttachmentID: h.upload("Ann Lee\n"),
			Options:      createOpts(),
			Principal:    &Principal{ID: "u1", Active: true},
		})
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("forbidden attributes are not written", func(t *testing.T) {
		h := newHarness()
		h.acl.forbidden = []string{"age"}
		res, err := h.importer.Run(context.Background(), RunRequest{
			EntityType:   "Contact",
			Mapping:      []string{"name", "age"},
			AttachmentID: h.upload("Ann Lee,40\n"),
			Options:      createOpts(),
			Principal:    &Principal{ID: "u1", Active: true},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
		recs := h.records.live("Contact")
		require.Len(t, recs, 1)
		assert.False(t, recs[0].Has("age"))
	})

	t.Run("admin bypasses checks", func(t *testing.T) {
		h := newHarness()
		h.acl.denyCreate = true
		h.acl.forbidden = []string{"age"}
		res, err := h.importer.Run(context.Background(), RunRequest{
			EntityType:   "Contact",
			Mapping:      []string{"name", "age"},
			AttachmentID: h.upload("Ann Lee,40\n"),
			Options:      createOpts(),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
	})
}

func TestRun_InvalidRequests(t *testing.T) {
	h := newHarness()

	_, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: h.upload(""),
		Options:      createOpts(),
	})
	assert.ErrorIs(t, err, ErrInvalidRequest, "empty attachment")

	_, err = h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name"},
		AttachmentID: h.upload("x\n"),
		Options:      Options{Action: "merge"},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest, "unknown action")

	_, err = h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Widget",
		Mapping:      []string{"name"},
		AttachmentID: h.upload("x\n"),
		Options:      createOpts(),
	})
	assert.ErrorIs(t, err, ErrNotFound, "unknown entity type")

	_, err = h.importer.Resume(context.Background(), nil, "missing", false, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRun_StructuredValueFailsRun(t *testing.T) {
	h := newHarness()
	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "meta"},
		AttachmentID: h.upload("Ann Lee,\"{\"\"a\"\":1}\"\nBo Chen,{broken\nCy Diaz,{}\n"),
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Created)
}

func TestRun_TransientSaveFailure(t *testing.T) {
	h := newHarness()
	h.records.saveErr = func(rec *Record) error {
		if rec.Get("age") == int64(2) {
			return errors.New("deadlock detected")
		}
		return nil
	}

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "age"},
		AttachmentID: h.upload("Ann Lee,1\nBo Chen,2\nCy Diaz,3\n"),
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Failed)

	outcomes, err := h.runs.ListOutcomes(context.Background(), res.RunID, OutcomeAll)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, []int{0, 2}, []int{outcomes[0].RowIndex, outcomes[1].RowIndex})
}

func TestRun_RelationResolvedByName(t *testing.T) {
	h := newHarness()
	acme := h.records.put(&Record{Type: "Account", Attrs: map[string]any{"name": "Acme"}})

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "accountName"},
		AttachmentID: h.upload("Ann Lee,Acme\nBo Chen,Globex\n"),
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	linked, err := h.records.Find(context.Background(), "Contact", Filter{"accountId": acme.ID}, 0)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "Ann", linked[0].Get("firstName"))

	unlinked, err := h.records.Find(context.Background(), "Contact", Filter{"firstName": "Bo"}, 1)
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	assert.False(t, unlinked[0].Has("accountId"))
	assert.Equal(t, "Globex", unlinked[0].Get("accountName"))
	assert.Len(t, h.records.live("Account"), 1, "related records are never created")
}

func TestRun_PersonRelationResolvedByName(t *testing.T) {
	h := newHarness()
	ann := h.records.put(&Record{Type: "Contact", Attrs: map[string]any{"firstName": "Ann", "lastName": "Lee"}})

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Lead",
		Mapping:      []string{"name", "assignedContactName"},
		AttachmentID: h.upload("Spring deal,Ann Lee\nAutumn deal,Bo Chen\n"),
		Options:      createOpts(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	linked, err := h.records.Find(context.Background(), "Lead", Filter{"name": "Spring deal"}, 1)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, ann.ID, linked[0].Get("assignedContactId"))
	assert.Equal(t, "Ann Lee", linked[0].Get("assignedContactName"))

	unlinked, err := h.records.Find(context.Background(), "Lead", Filter{"name": "Autumn deal"}, 1)
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	assert.False(t, unlinked[0].Has("assignedContactId"))
	assert.Equal(t, "Bo Chen", unlinked[0].Get("assignedContactName"))
	assert.Len(t, h.records.live("Contact"), 1, "related records are never created")
}

func TestRunWithParamsOf(t *testing.T) {
	h := newHarness()
	opts := createOpts()
	opts.ManualMode = true
	opts.Delimiter = ";"
	source, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"name", "age"},
		AttachmentID: h.upload("x;1\n"),
		Options:      opts,
	})
	require.NoError(t, err)

	res, err := h.importer.RunWithParamsOf(context.Background(), nil, []byte("Ann Lee;40\n"), source.RunID)
	require.NoError(t, err)
	assert.NotEqual(t, source.RunID, res.RunID)
	assert.False(t, res.ManualMode)
	assert.Equal(t, 1, res.Created)

	recs := h.records.live("Contact")
	require.Len(t, recs, 1)
	assert.Equal(t, int64(40), recs[0].Get("age"))

	_, err = h.importer.RunWithParamsOf(context.Background(), nil, nil, source.RunID)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunDetailsAndRecords(t *testing.T) {
	h := newHarness()
	h.records.put(&Record{Type: "Contact", Attrs: map[string]any{"emailAddress": "ann@x.io"}})

	res, err := h.importer.Run(context.Background(), RunRequest{
		EntityType:   "Contact",
		Mapping:      []string{"emailAddress"},
		AttachmentID: h.upload("ann@x.io\nbo@x.io\n"),
		Options:      createOpts(),
	})
	require.NoError(t, err)

	details, err := h.importer.RunDetails(context.Background(), nil, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCounts{Imported: 2, Duplicates: 1}, details.Counts)

	dups, err := h.importer.RunRecords(context.Background(), nil, res.RunID, OutcomeDuplicates)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "ann@x.io", dups[0].Get("emailAddress"))

	require.NoError(t, h.importer.ClearDuplicateFlag(context.Background(), nil, res.RunID, "Contact", dups[0].ID))
	details, err = h.importer.RunDetails(context.Background(), nil, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 0, details.Counts.Duplicates)

	err = h.importer.ClearDuplicateFlag(context.Background(), nil, res.RunID, "Contact", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.importer.ClearDuplicateFlag(context.Background(), nil, "missing-run", "Contact", dups[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	h.acl.noEditIDs = map[string]bool{res.RunID: true}
	require.NoError(t, h.importer.ClearDuplicateFlag(context.Background(), nil, res.RunID, "Contact", dups[0].ID), "system bypasses the check")
	err = h.importer.ClearDuplicateFlag(context.Background(), &Principal{ID: "u1", Active: true}, res.RunID, "Contact", dups[0].ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	h.acl.noEditIDs = nil

	h.acl.denyRead = true
	_, err = h.importer.RunDetails(context.Background(), &Principal{ID: "u1", Active: true}, res.RunID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
