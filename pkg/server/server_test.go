package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/session"
)

const serverScenes = `{
  "gate": {
    "description": "A rusted gate bars the way north.",
    "choices": [{"command": "back", "description": "Return to the hall"}],
    "transitions": {
      "back": {"narration": "You retreat into the hall.", "target": "hall"}
    }
  },
  "hall": {
    "description": "A dusty hall.",
    "choices": [{"command": "north", "description": "Approach the gate"}],
    "transitions": {
      "north": {"narration": "You walk to the gate.", "target": "gate"}
    }
  }
}`

func newTestServer(t *testing.T) (*Server, *session.MemoryStore) {
	t.Helper()
	repo, err := scene.Parse([]byte(serverScenes), scene.ParseOptions{StartScene: "gate"})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Scenes.Path = "scenes.json"
	store := session.NewMemoryStore()
	return New(cfg, repo, store), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["scenes"])
}

func TestSessionLifecycle(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router()

	// Create.
	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]string{"session_id": "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "s1", created["session_id"])
	assert.Equal(t, "gate", created["location"])

	// Advance; the snapshot is persisted as a side effect.
	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/s1/advance", map[string]string{"input": "back"})
	require.Equal(t, http.StatusOK, rec.Code)

	var event map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Contains(t, event["narration"], "You retreat into the hall.")

	ids, err := store.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	// Snapshot.
	rec = doJSON(t, router, http.MethodGet, "/v1/sessions/s1/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := rec.Body.Bytes()

	// Restore yields a session at the snapshotted location.
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/restore", bytes.NewReader(snapshot))
	restoreRec := httptest.NewRecorder()
	router.ServeHTTP(restoreRec, req)
	require.Equal(t, http.StatusCreated, restoreRec.Code)

	var restored map[string]string
	require.NoError(t, json.Unmarshal(restoreRec.Body.Bytes(), &restored))
	assert.Equal(t, "hall", restored["location"])

	// Delete removes the live session and the persisted snapshot.
	rec = doJSON(t, router, http.MethodDelete, "/v1/sessions/s1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/s1/advance", map[string]string{"input": "north"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ids, err = store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAdvanceUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/sessions/nope/advance", map[string]string{"input": "back"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestoreRejectsMalformedSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/restore", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
