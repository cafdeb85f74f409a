package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"espc3d/internal/broadcast"
	"espc3d/internal/floorplan"
	"espc3d/internal/pipeline"
	"espc3d/internal/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const floorsJSON = `[{"name":"Ground","bounds":[[0,0,0],[10,10,2.5]],"color":"#334455",
"rooms":[{"name":"Hall","points":[[0,0],[1,1]],"badges":["door"]}]}]`

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	public := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(public, "index.html"), []byte("<html>viewer</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(public, "app.js"), []byte("console.log(1)"), 0o644))

	reg := registry.New()
	hub := broadcast.NewHub(reg, time.Hour, nil, quietLogger())

	floors := json.RawMessage(floorsJSON)
	srv := httptest.NewServer(NewServer(hub, floors, public, quietLogger()).Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv, reg
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func TestRoot_RedirectsToIndex(t *testing.T) {
	srv, _ := newTestServer(t)
	client := &http.Client{CheckRedirect: noRedirect}

	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/index.html", resp.Header.Get("Location"))
}

func TestIndex_ServedWithoutRedirect(t *testing.T) {
	srv, _ := newTestServer(t)
	client := &http.Client{CheckRedirect: noRedirect}

	resp, err := client.Get(srv.URL + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>viewer</html>", string(body))
}

func TestStaticFiles(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/app.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log(1)", string(body))

	missing, err := http.Get(srv.URL + "/nope.js")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestFloors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/floors")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, floorsJSON, string(body), "companion fields pass through untouched")

	var floors []floorplan.Floor
	require.NoError(t, json.Unmarshal(body, &floors))
	require.Len(t, floors, 1)
	assert.Equal(t, "Hall", floors[0].Rooms[0].Name)
	assert.Equal(t, 2.5, floors[0].Ceiling())
}

func TestFloors_EmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(nil, nil, t.TempDir(), quietLogger()).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/floors", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdates_RequiresEventStreamAccept(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/updates")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestUpdates_StreamsSnapshot(t *testing.T) {
	srv, reg := newTestServer(t)
	reg.Upsert(pipeline.TrackerRecord{ID: "t1", X: 5, Y: 5, Z: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/updates", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	idLine, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(idLine, "id: "))

	dataLine, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "))
	assert.JSONEq(t, `{"t1":{"id":"t1","x":5,"y":5,"z":1}}`, strings.TrimSpace(strings.TrimPrefix(dataLine, "data: ")))
}

func TestViewerPage_RendersTrackerIDsAsText(t *testing.T) {
	page, err := os.ReadFile(filepath.Join("..", "..", "public", "index.html"))
	require.NoError(t, err)

	assert.NotContains(t, string(page), "innerHTML")
	assert.Contains(t, string(page), "textContent")
}

func TestUpdates_MarkupInTrackerIDIsEscaped(t *testing.T) {
	srv, reg := newTestServer(t)
	reg.Upsert(pipeline.TrackerRecord{ID: "<img src=x onerror=alert(1)>", X: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/updates", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	_, err = r.ReadString('\n')
	require.NoError(t, err)
	dataLine, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.NotContains(t, dataLine, "<img")

	var snap map[string]pipeline.TrackerRecord
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")), &snap))
	assert.Contains(t, snap, "<img src=x onerror=alert(1)>")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", clientIP(r))

	r.Header.Set("X-Forwarded-For", "192.168.0.9, 10.0.0.1")
	assert.Equal(t, "192.168.0.9", clientIP(r))
}
