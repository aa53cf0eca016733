package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"decisionsupport/internal/blob"
	"decisionsupport/internal/config"
	"decisionsupport/internal/db"
	"decisionsupport/internal/domain"
	"decisionsupport/internal/engine"
	"decisionsupport/internal/engine/auth"
	"decisionsupport/internal/migrate"
	"decisionsupport/internal/repo"
	"decisionsupport/internal/repo/mocks"
	sdk "decisionsupport/sdk/go"
)

const (
	testSecret = "test-secret"
	testAPIKey = "ci-key"
)

type testServer struct {
	URL   string
	Token string
	close func()
}

func (s *testServer) Close() { s.close() }

func (s *testServer) client() *sdk.Client {
	c := sdk.New(s.URL)
	c.BearerToken = s.Token
	return c
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, dialect))
	store := repo.New(conn, dialect)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(store, blob.NewFSStore(afero.NewMemMapFs(), "/files"), logger)

	handler, err := New(Config{
		Engine:   e,
		Events:   store,
		BasePath: "/rest",
		Logger:   logger,
		Auth: AuthConfig{
			JWTSecret: testSecret,
			APIKeys: []config.APIKey{
				{Name: "ci", KeyHash: auth.HashKey(testAPIKey), Permissions: []string{auth.PermissionAccessContent}},
			},
		},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)

	token, err := SignToken(testSecret, "alice", []string{auth.PermissionAccessContent}, time.Hour)
	require.NoError(t, err)
	s := &testServer{
		URL:   "http://" + ln.Addr().String(),
		Token: token,
		close: func() {
			srv.Shutdown(context.Background())
			conn.Close()
		},
	}
	t.Cleanup(s.Close)
	return s
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func requireAPIError(t *testing.T, err error, status int, code string) *sdk.APIError {
	t.Helper()
	var apiErr *sdk.APIError
	require.True(t, errors.As(err, &apiErr), "want APIError, got %v", err)
	require.Equal(t, status, apiErr.StatusCode, apiErr.Body)
	require.Equal(t, code, apiErr.Code)
	return apiErr
}

func TestDecisionSupportLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	proc, err := c.CreateProcess(ctx, map[string]any{"label": "Flow", "steps": []any{"a", "b"}})
	require.NoError(t, err)

	created, err := c.CreateDecisionSupport(ctx, map[string]any{
		"process_id":  proc.EntityID,
		"label":       "Plan A",
		"isCompleted": false,
	})
	require.NoError(t, err)
	require.NotZero(t, created.EntityID)
	id := fmt.Sprint(created.EntityID)

	raw, err := c.GetDecisionSupport(ctx, id)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, []any{"a", "b"}, payload["steps"])
	require.Equal(t, "Plan A", payload["decisionSupportLabel"])
	require.Equal(t, false, payload["isCompleted"])
	require.NotEmpty(t, payload["uuid"])

	list, err := c.ListDecisionSupport(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Plan A", list[0].Label)

	_, err = c.UpdateDecisionSupport(ctx, id, map[string]any{"foo": "bar"})
	require.NoError(t, err)
	raw, err = c.GetDecisionSupport(ctx, id)
	require.NoError(t, err)
	require.JSONEq(t, `{"foo":"bar"}`, string(raw))

	require.NoError(t, c.ArchiveDecisionSupport(ctx, id))
	_, err = c.GetDecisionSupport(ctx, id)
	apiErr := requireAPIError(t, err, http.StatusNotFound, "not_found")
	require.Equal(t, "DecisionSupport with ID "+id+" was not found.", apiErr.Message)

	list, err = c.ListDecisionSupport(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDecisionSupportErrors(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	_, err := c.CreateDecisionSupport(ctx, map[string]any{"label": "no process"})
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")

	_, err = c.CreateDecisionSupport(ctx, map[string]any{"process_id": 404, "label": "x"})
	apiErr := requireAPIError(t, err, http.StatusNotFound, "not_found")
	require.Contains(t, apiErr.Message, "404")

	for _, id := range []string{"999", "abc"} {
		_, err = c.GetDecisionSupport(ctx, id)
		requireAPIError(t, err, http.StatusNotFound, "not_found")
		_, err = c.UpdateDecisionSupport(ctx, id, map[string]any{"foo": "bar"})
		requireAPIError(t, err, http.StatusNotFound, "not_found")
		err = c.ArchiveDecisionSupport(ctx, id)
		requireAPIError(t, err, http.StatusNotFound, "not_found")
	}
}

func TestCreateReturnsCreatedStatus(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer " + srv.Token}
	res, body := doJSON(t, http.MethodPost, srv.URL+"/rest/process/create", map[string]any{"label": "P"}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	res, body = doJSON(t, http.MethodPost, srv.URL+"/rest/support/create", map[string]any{"process_id": "1", "label": "D"}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	res, body = doJSON(t, http.MethodDelete, srv.URL+"/rest/support/archive/2", nil, headers)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(body))
	require.NotEmpty(t, res.Header.Get(requestIDHeader))
}

func TestUpdateKeepsNumberLiterals(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer " + srv.Token}
	res, body := doJSON(t, http.MethodPost, srv.URL+"/rest/process/create", []byte(`{"label":"P","steps":[1.0]}`), headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	res, body = doJSON(t, http.MethodPost, srv.URL+"/rest/support/create", []byte(`{"process_id":1,"label":"D"}`), headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var ds RecordResponse
	require.NoError(t, json.Unmarshal(body, &ds))
	res, body = doJSON(t, http.MethodGet, srv.URL+fmt.Sprintf("/rest/support/get/%d", ds.EntityID), nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.Contains(t, string(body), `"steps":[1.0]`)
	inv, err := srv.client().CreateInvestigation(context.Background(), map[string]any{"label": "I"})
	require.NoError(t, err)

	const payload = `{"big":9007199254740993,"f":1.0,"nested":{"n":-12345678901234567890}}`
	for _, path := range []string{
		fmt.Sprintf("/rest/support/%%s/%d", ds.EntityID),
		fmt.Sprintf("/rest/investigation/%%s/%d", inv.EntityID),
	} {
		res, body = doJSON(t, http.MethodPatch, srv.URL+fmt.Sprintf(path, "update"), []byte(payload), headers)
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
		res, body = doJSON(t, http.MethodGet, srv.URL+fmt.Sprintf(path, "get"), nil, headers)
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
		require.Equal(t, payload, strings.TrimSpace(string(body)))
	}
}

func TestNonObjectBodyIsRejected(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer " + srv.Token}
	res, body := doJSON(t, http.MethodPost, srv.URL+"/rest/investigation/create", []byte(`[1,2]`), headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
}

func TestInvestigationRoutes(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	inv, err := c.CreateInvestigation(ctx, map[string]any{"label": "Spill", "site": "north"})
	require.NoError(t, err)
	id := fmt.Sprint(inv.EntityID)

	raw, err := c.GetInvestigation(ctx, id)
	require.NoError(t, err)
	require.JSONEq(t, `{"label":"Spill","site":"north"}`, string(raw))

	updated, err := c.UpdateInvestigation(ctx, id, map[string]any{"site": "south"})
	require.NoError(t, err)
	require.JSONEq(t, `{"site":"south"}`, updated.JSONString)

	_, err = c.UpdateInvestigation(ctx, "31337", map[string]any{})
	apiErr := requireAPIError(t, err, http.StatusNotFound, "not_found")
	require.Equal(t, "Investigation with ID 31337 was not found.", apiErr.Message)
}

func TestProcessRoutes(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	p, err := c.CreateProcess(ctx, map[string]any{"label": "Bare"})
	require.NoError(t, err)
	require.JSONEq(t, `{"label":"Bare","steps":[]}`, p.JSONString)

	got, err := c.GetProcess(ctx, fmt.Sprint(p.EntityID))
	require.NoError(t, err)
	require.Equal(t, "Bare", got.Label)

	list, err := c.ListProcesses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = c.GetProcess(ctx, "77")
	requireAPIError(t, err, http.StatusNotFound, "not_found")
}

func TestDecisionSupportFileRoutes(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	_, err := c.CreateProcess(ctx, map[string]any{"label": "Flow", "steps": []any{"a"}})
	require.NoError(t, err)
	ds, err := c.CreateDecisionSupport(ctx, map[string]any{"process_id": "1", "label": "Doc"})
	require.NoError(t, err)
	id := fmt.Sprint(ds.EntityID)

	_, err = c.GetDecisionSupportFile(ctx, id)
	requireAPIError(t, err, http.StatusNotFound, "not_found")

	file, err := c.ExportDecisionSupportFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "decision-support/"+id+".json", file.Key)

	got, err := c.GetDecisionSupportFile(ctx, id)
	require.NoError(t, err)
	require.JSONEq(t, ds.JSONString, string(got.Content))
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	anon := sdk.New(srv.URL)
	_, err := anon.ListDecisionSupport(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, "unauthorized")
	require.NoError(t, anon.Health(ctx))

	bad := sdk.New(srv.URL)
	bad.BearerToken = "not-a-token"
	_, err = bad.ListDecisionSupport(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	token, err := SignToken(testSecret, "bob", nil, time.Hour)
	require.NoError(t, err)
	noPerm := sdk.New(srv.URL)
	noPerm.BearerToken = token
	_, err = noPerm.ListDecisionSupport(ctx)
	requireAPIError(t, err, http.StatusForbidden, "forbidden")

	wrongSecret, err := SignToken("other-secret", "mallory", []string{auth.PermissionAccessContent}, time.Hour)
	require.NoError(t, err)
	forged := sdk.New(srv.URL)
	forged.BearerToken = wrongSecret
	_, err = forged.ListDecisionSupport(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	keyed := sdk.New(srv.URL)
	keyed.APIKey = testAPIKey
	list, err := keyed.ListDecisionSupport(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	keyed.APIKey = "wrong"
	_, err = keyed.ListDecisionSupport(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")
}

func TestPublicEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, p := range []string{"/docs", "/rest/openapi.json", "/rest/health"} {
		res, body := doJSON(t, http.MethodGet, srv.URL+p, nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, "%s: %s", p, body)
	}
	res, body := doJSON(t, http.MethodGet, srv.URL+"/rest/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "/rest/support/get/{decisionSupportId}")

	res, body = doJSON(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "decisionsupport_http_requests_total")
	require.Contains(t, string(body), `route="/rest/health"`)
}

func TestOpenAPIConcurrentRequests(t *testing.T) {
	srv := newTestServer(t)
	bodies := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < cap(bodies); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := http.Get(srv.URL + "/rest/openapi.json")
			if err != nil {
				bodies <- "error: " + err.Error()
				return
			}
			defer res.Body.Close()
			b, _ := io.ReadAll(res.Body)
			bodies <- string(b)
		}()
	}
	wg.Wait()
	close(bodies)
	var first string
	for b := range bodies {
		require.Contains(t, b, "bearerAuth")
		if first == "" {
			first = b
		}
		require.Equal(t, first, b)
	}
}

func TestEventResponseLogsCorruptPayload(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	ev := eventResponse(logger, domain.Event{ID: 41, Type: "entity.created", Payload: `{"label":"ok"}`})
	require.Equal(t, "ok", ev.Payload["label"])
	require.Empty(t, logs.String())

	ev = eventResponse(logger, domain.Event{ID: 42, Type: "entity.created", Payload: `{"label":`})
	require.Empty(t, ev.Payload)
	require.Contains(t, logs.String(), "event payload is not valid JSON")
	require.Contains(t, logs.String(), "event_id=42")
}

func TestEventsRecordPrincipal(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := srv.client()

	p, err := c.CreateProcess(ctx, map[string]any{"label": "Flow"})
	require.NoError(t, err)

	evs, err := c.Events(ctx, domain.TypeProcess, fmt.Sprint(p.EntityID), 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "entity.created", evs[0].Type)
	require.Equal(t, "alice", evs[0].ActorID)
	require.Equal(t, "Flow", evs[0].Payload["label"])
}

func TestInternalErrorsHideDetail(t *testing.T) {
	store := &mocks.EntityStore{}
	store.On("LoadMultiple", mock.Anything, domain.TypeDecisionSupport).Return(nil, errors.New("pq: relation entities does not exist"))
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	handler, err := New(Config{
		Engine: engine.New(store, nil, logger),
		Logger: logger,
		Auth:   AuthConfig{JWTSecret: testSecret},
	})
	require.NoError(t, err)
	token, err := SignToken(testSecret, "alice", []string{auth.PermissionAccessContent}, 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/rest/support/list", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Internal Server Error")
	require.NotContains(t, rec.Body.String(), "relation entities")
	require.True(t, strings.Contains(logs.String(), "relation entities"))
}

func TestHandleErrorMapping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		err    error
		status int
	}{
		{auth.ForbiddenError{Permission: auth.PermissionAccessContent}, http.StatusForbidden},
		{engine.NotFoundError{Kind: "DecisionSupport", ID: "1"}, http.StatusNotFound},
		{repo.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: process_id required", engine.ErrInvalidInput), http.StatusBadRequest},
		{engine.UpstreamError{Op: "x", Err: errors.New("boom")}, http.StatusInternalServerError},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		se := handleError(logger, tc.err)
		require.Equal(t, tc.status, se.GetStatus(), "%v", tc.err)
	}
	require.Nil(t, handleError(logger, nil))
}
