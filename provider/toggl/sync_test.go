package toggl_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/mirror"
	"github.com/warp/billing-engine/provider/toggl"
)

// workspace serves fixed client and project listings for workspace 7 and
// records every write.
type workspace struct {
	clients  string
	projects string

	mu     sync.Mutex
	writes []recorded
}

func (ws *workspace) start(t *testing.T) *toggl.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			body, _ := io.ReadAll(r.Body)
			ws.mu.Lock()
			ws.writes = append(ws.writes, recorded{r.Method, r.URL.Path, r.URL.RawQuery, string(body)})
			ws.mu.Unlock()
			w.Write([]byte(`{}`))
			return
		}
		switch r.URL.Path {
		case "/workspaces/7/clients":
			w.Write([]byte(ws.clients))
		case "/workspaces/7/projects":
			assert.Equal(t, "200", r.URL.Query().Get("per_page"))
			w.Write([]byte(ws.projects))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return toggl.New(toggl.Config{BaseURL: srv.URL, Token: "tok", Workspace: 7}, nil)
}

func decodeBody(t *testing.T, r recorded) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.body), &m))
	return m
}

func TestClient_SyncClients(t *testing.T) {
	// GIVEN Acme exists by name only, Globex carries its ref
	ws := &workspace{clients: `[
		{"id": 1, "name": "Acme GmbH", "notes": ""},
		{"id": 2, "name": "Globex Ltd", "notes": "globex"}
	]`}
	c := ws.start(t)

	// WHEN
	changes, err := c.SyncClients(context.Background(), []billing.Customer{
		{Ref: "acme", Name: "Acme GmbH"},
		{Ref: "globex", Name: "Globex Ltd"},
		{Ref: "initech", Name: "Initech"},
	})

	// THEN Acme gets its ref, Globex stays, Initech is created
	require.NoError(t, err)
	assert.Equal(t, mirror.Changes{Created: 1, Updated: 1, Unchanged: 1}, changes)
	require.Len(t, ws.writes, 2)
	assert.Equal(t, http.MethodPut, ws.writes[0].method)
	assert.Equal(t, "/workspaces/7/clients/1", ws.writes[0].path)
	assert.Equal(t, "acme", decodeBody(t, ws.writes[0])["notes"])
	assert.Equal(t, http.MethodPost, ws.writes[1].method)
	created := decodeBody(t, ws.writes[1])
	assert.Equal(t, "Initech", created["name"])
	assert.Equal(t, float64(7), created["wid"])
}

func TestClient_SyncProjects(t *testing.T) {
	// GIVEN Website is in place, App is public and Shop is missing
	ws := &workspace{
		clients: `[{"id": 1, "name": "Acme GmbH", "notes": "acme"}, {"id": 2, "name": "Globex Ltd", "notes": "globex"}]`,
		projects: `[
			{"id": 10, "name": "Website", "client_id": 1, "is_private": true},
			{"id": 11, "name": "App", "client_id": 2, "is_private": false}
		]`,
	}
	c := ws.start(t)

	// WHEN
	changes, err := c.SyncProjects(context.Background(), []billing.Project{
		{Ref: "App", CustomerRef: "globex"},
		{Ref: "Shop", Name: "Online Shop", CustomerRef: "acme"},
		{Ref: "Website", CustomerRef: "acme"},
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, mirror.Changes{Created: 1, Updated: 1, Unchanged: 1}, changes)
	require.Len(t, ws.writes, 2)
	assert.Equal(t, "/workspaces/7/projects/11", ws.writes[0].path)
	assert.Equal(t, true, decodeBody(t, ws.writes[0])["is_private"])

	// AND new projects are named by ref, the name the tracker reports
	shop := decodeBody(t, ws.writes[1])
	assert.Equal(t, http.MethodPost, ws.writes[1].method)
	assert.Equal(t, "Shop", shop["name"])
	assert.Equal(t, float64(1), shop["client_id"])
}

func TestClient_SyncProjects_MissingClient(t *testing.T) {
	ws := &workspace{clients: `[]`, projects: `[]`}
	c := ws.start(t)

	_, err := c.SyncProjects(context.Background(), []billing.Project{{Ref: "App", CustomerRef: "globex"}})

	assert.ErrorContains(t, err, `no client for customer "globex"`)
	assert.Empty(t, ws.writes)
}
