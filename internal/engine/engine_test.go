package engine_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"decisionsupport/internal/blob"
	"decisionsupport/internal/db"
	"decisionsupport/internal/domain"
	"decisionsupport/internal/engine"
	"decisionsupport/internal/migrate"
	"decisionsupport/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	DB     *sql.DB
	Logs   *bytes.Buffer
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))

	store := repo.New(conn, dialect)
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	eng := engine.New(store, blob.NewFSStore(afero.NewMemMapFs(), "/blobs"), logger)
	eng.NewUUID = func() string { return "0b6a3c1e-5f43-4a8e-9d2b-1c7e8f9a0d11" }
	return testEnv{Engine: eng, Repo: store, DB: conn, Logs: logs, Ctx: context.Background()}
}

// seed inserts an entity with a fixed id.
func (env testEnv) seed(t *testing.T, id int64, entityType, label, payload string) {
	t.Helper()
	_, err := env.DB.Exec(`INSERT INTO entities(id,entity_type,label,revision_status,is_completed,json_string,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		id, entityType, label, domain.RevisionStatusPublished, false, payload, "2025-01-01T00:00:00Z", "2025-01-01T00:00:00Z")
	require.NoError(t, err)
}

func decode(t *testing.T, payload string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &m))
	return m
}

func requireNotFound(t *testing.T, err error, id string) {
	t.Helper()
	var nf engine.NotFoundError
	require.True(t, errors.As(err, &nf), "want NotFoundError, got %v", err)
	require.Equal(t, id, nf.ID)
	require.Contains(t, err.Error(), id)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCreateCopiesProcessSteps(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 7, domain.TypeProcess, "Flow", `{"steps":["a","b"]}`)

	ds, err := env.Engine.CreateDecisionSupport(env.Ctx, map[string]any{
		"process_id":  float64(7),
		"label":       "Plan A",
		"isCompleted": false,
	})
	require.NoError(t, err)
	require.NotZero(t, ds.ID)

	payload := decode(t, ds.JSONString)
	require.Equal(t, []any{"a", "b"}, payload["steps"])
	require.Equal(t, "Plan A", payload["decisionSupportLabel"])
	require.Equal(t, false, payload["isCompleted"])
	require.NotEmpty(t, payload["uuid"])
	require.Equal(t, float64(ds.ID), payload["entityId"])
	require.Equal(t, float64(7), payload["processId"])
	require.Equal(t, "Flow", payload["processLabel"])

	got, err := env.Engine.GetDecisionSupport(env.Ctx, strconv.FormatInt(ds.ID, 10))
	require.NoError(t, err)
	require.Equal(t, ds.JSONString, got)
	require.Contains(t, env.Logs.String(), "Created new DecisionSupport entity")
}

func TestCreatePreservesStepOrderAndContent(t *testing.T) {
	env := newTestEnv(t)
	proc, err := env.Engine.CreateProcess(env.Ctx, map[string]any{
		"label": "Triage",
		"steps": []any{
			map[string]any{"id": "z", "questions": []any{"q2", "q1"}},
			map[string]any{"id": "a"},
		},
	})
	require.NoError(t, err)

	ds, err := env.Engine.CreateDecisionSupport(env.Ctx, map[string]any{"process_id": "1", "name": "Case"})
	require.NoError(t, err)
	require.Equal(t, decode(t, proc.JSONString)["steps"], decode(t, ds.JSONString)["steps"])

	revs, err := env.Repo.Revisions(env.Ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	require.Equal(t, revs[1], ds.RevisionID)
}

func TestCreateWithoutSteps(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 3, domain.TypeProcess, "Empty", `{}`)
	ds, err := env.Engine.CreateDecisionSupport(env.Ctx, map[string]any{"process_id": 3, "label": "X"})
	require.NoError(t, err)
	payload := decode(t, ds.JSONString)
	require.Contains(t, payload, "steps")
	require.Nil(t, payload["steps"])
}

func TestCreateUnknownProcessPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateDecisionSupport(env.Ctx, map[string]any{"process_id": float64(99), "label": "Plan A"})
	requireNotFound(t, err, "99")
	require.Equal(t, "Process with ID 99 was not found.", err.Error())

	list, err := env.Engine.ListDecisionSupport(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateRequiresProcessID(t *testing.T) {
	env := newTestEnv(t)
	for _, data := range []map[string]any{
		{"label": "Plan A"},
		{"process_id": ""},
		{"process_id": 1.5},
		{"decisionSupport_id": float64(7)},
	} {
		_, err := env.Engine.CreateDecisionSupport(env.Ctx, data)
		require.ErrorIs(t, err, engine.ErrInvalidInput, "data %v", data)
	}
}

func TestCreateRejectsBadCompletionFlag(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, domain.TypeProcess, "Flow", `{"steps":[]}`)
	_, err := env.Engine.CreateDecisionSupport(env.Ctx, map[string]any{"process_id": "1", "isCompleted": "perhaps"})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	list, err := env.Engine.ListDecisionSupport(env.Ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestUnknownDecisionSupportIDs(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"12345", "abc"} {
		_, err := env.Engine.GetDecisionSupport(env.Ctx, id)
		requireNotFound(t, err, id)
		_, err = env.Engine.UpdateDecisionSupport(env.Ctx, id, map[string]any{"foo": "bar"})
		requireNotFound(t, err, id)
		err = env.Engine.ArchiveDecisionSupport(env.Ctx, id)
		requireNotFound(t, err, id)
	}
	_, err := env.Engine.GetDecisionSupport(env.Ctx, "12345")
	require.Equal(t, "DecisionSupport with ID 12345 was not found.", err.Error())
}

func TestUpdateThenGetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 42, domain.TypeDecisionSupport, "Old", `{"entityId":42,"steps":["x"]}`)

	ds, err := env.Engine.UpdateDecisionSupport(env.Ctx, "42", map[string]any{"foo": "bar"})
	require.NoError(t, err)
	require.Equal(t, int64(42), ds.ID)

	got, err := env.Engine.GetDecisionSupport(env.Ctx, "42")
	require.NoError(t, err)
	require.Equal(t, `{"foo":"bar"}`, got)
}

func TestArchiveRemovesRecord(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, domain.TypeDecisionSupport, "Gone", `{}`)

	require.NoError(t, env.Engine.ArchiveDecisionSupport(env.Ctx, "5"))
	_, err := env.Engine.GetDecisionSupport(env.Ctx, "5")
	requireNotFound(t, err, "5")
	require.Contains(t, env.Logs.String(), "Moved DecisionSupport to archived")

	var n int
	require.NoError(t, env.DB.QueryRow(`SELECT COUNT(*) FROM entities WHERE id=5`).Scan(&n))
	require.Zero(t, n)
}

func TestListDecisionSupport(t *testing.T) {
	env := newTestEnv(t)
	list, err := env.Engine.ListDecisionSupport(env.Ctx)
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)

	env.seed(t, 1, domain.TypeProcess, "Flow", `{"steps":["a"]}`)
	env.seed(t, 2, domain.TypeInvestigation, "Inv", `{}`)
	_, err = env.Engine.CreateDecisionSupport(env.Ctx, map[string]any{"process_id": "1", "label": "First", "isCompleted": true})
	require.NoError(t, err)
	_, err = env.Engine.CreateDecisionSupport(env.Ctx, map[string]any{"process_id": "1", "label": "Second"})
	require.NoError(t, err)

	list, err = env.Engine.ListDecisionSupport(env.Ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "First", list[0].Label)
	require.True(t, list[0].IsCompleted)
	require.Equal(t, domain.RevisionStatusPublished, list[0].RevisionStatus)
	require.NotZero(t, list[0].RevisionID)
	require.NotEmpty(t, list[0].CreatedTime)
	require.Equal(t, "Second", decode(t, list[1].JSONString)["decisionSupportLabel"])
}

func TestInvestigationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	inv, err := env.Engine.CreateInvestigation(env.Ctx, map[string]any{"label": "Leak", "notes": []any{"n1"}})
	require.NoError(t, err)
	require.Equal(t, "Leak", inv.Label)

	id := "1"
	got, err := env.Engine.GetInvestigation(env.Ctx, id)
	require.NoError(t, err)
	require.JSONEq(t, `{"label":"Leak","notes":["n1"]}`, got)

	_, err = env.Engine.UpdateInvestigation(env.Ctx, id, map[string]any{"status": "closed"})
	require.NoError(t, err)
	got, err = env.Engine.GetInvestigation(env.Ctx, id)
	require.NoError(t, err)
	require.Equal(t, `{"status":"closed"}`, got)
	require.Contains(t, env.Logs.String(), "The Investigation has been updated")

	_, err = env.Engine.UpdateInvestigation(env.Ctx, "77", map[string]any{})
	requireNotFound(t, err, "77")
	require.Equal(t, "Investigation with ID 77 was not found.", err.Error())

	_, err = env.Engine.GetDecisionSupport(env.Ctx, id)
	requireNotFound(t, err, id)
}

func TestProcessCreateDefaultsSteps(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProcess(env.Ctx, map[string]any{"label": "Bare"})
	require.NoError(t, err)
	require.JSONEq(t, `{"label":"Bare","steps":[]}`, p.JSONString)

	got, err := env.Engine.GetProcess(env.Ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "Bare", got.Label)

	list, err := env.Engine.ListProcesses(env.Ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = env.Engine.GetProcess(env.Ctx, "2")
	requireNotFound(t, err, "2")
}

func TestDecisionSupportFileExport(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 9, domain.TypeDecisionSupport, "Doc", `{"foo":"bar"}`)

	_, err := env.Engine.GetDecisionSupportFile(env.Ctx, "9")
	requireNotFound(t, err, "9")

	file, err := env.Engine.ExportDecisionSupportFile(env.Ctx, "9")
	require.NoError(t, err)
	require.Equal(t, "decision-support/9.json", file.Key)
	require.Equal(t, int64(len(`{"foo":"bar"}`)), file.Size)
	require.Equal(t, "application/json", file.ContentType)

	got, err := env.Engine.GetDecisionSupportFile(env.Ctx, "9")
	require.NoError(t, err)
	require.JSONEq(t, `{"foo":"bar"}`, string(got.Content))
	require.Equal(t, file.ETag, got.ETag)

	_, err = env.Engine.ExportDecisionSupportFile(env.Ctx, "10")
	requireNotFound(t, err, "10")
}

func TestDecisionSupportFileWithoutBlobStore(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Blobs = nil
	env.seed(t, 1, domain.TypeDecisionSupport, "Doc", `{}`)

	_, err := env.Engine.ExportDecisionSupportFile(env.Ctx, "1")
	var upstream engine.UpstreamError
	require.True(t, errors.As(err, &upstream))

	_, err = env.Engine.GetDecisionSupportFile(env.Ctx, "2")
	requireNotFound(t, err, "2")
}
