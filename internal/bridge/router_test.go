//go:build !windows

package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskwright/shellcore/internal/supervisor"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestStack(t *testing.T) (*supervisor.Supervisor, *httptest.Server) {
	t.Helper()
	cli := filepath.Join(t.TempDir(), "fakecli")
	script := `#!/bin/sh
cmd="$1"
shift
case "$cmd" in
status) echo "one"; echo "two" ;;
sync) sleep 30 ;;
build) exit 3 ;;
esac
`
	require.NoError(t, os.WriteFile(cli, []byte(script), 0o755))
	sup := supervisor.New(supervisor.Options{ExecPath: cli})
	t.Cleanup(sup.Cleanup)
	srv := httptest.NewServer(NewRouter(sup, "/api").Handler())
	t.Cleanup(srv.Close)
	return sup, srv
}

func postExecute(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/execute", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestExecuteAndStatus(t *testing.T) {
	_, srv := newTestStack(t)

	resp, body := postExecute(t, srv, `{"command":"status"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var exec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &exec))
	require.NotEmpty(t, exec.ID)

	var view map[string]any
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/status?id=" + exec.ID)
		if err != nil || r.StatusCode != http.StatusOK {
			return false
		}
		defer r.Body.Close()
		view = map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
			return false
		}
		return view["status"] == "completed"
	}, 5*time.Second, 50*time.Millisecond, "process never completed")

	assert.Equal(t, "status", view["command"])
	assert.Equal(t, []any{"one", "two"}, view["stdout"])
	assert.Equal(t, float64(0), view["exit_code"])
	// the OS pid must never cross the bridge
	_, leaked := view["pid"]
	assert.False(t, leaked, "pid leaked in status projection: %v", view)
}

func TestExecuteRejections(t *testing.T) {
	_, srv := newTestStack(t)

	resp, body := postExecute(t, srv, `{"command":"rm","args":["-rf","/"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "command", e.Kind)
	assert.NotContains(t, e.Error, "rm", "rejection echoed the raw command")

	resp, body = postExecute(t, srv, `{"command":"status","args":["$(whoami)"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "argument", e.Kind)
	assert.NotContains(t, e.Error, "whoami", "rejection echoed the raw argument")

	resp, _ = postExecute(t, srv, `{"command":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelStatusCodes(t *testing.T) {
	sup, srv := newTestStack(t)

	resp, err := http.Post(srv.URL+"/api/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/cancel?id=unknown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	id, err := sup.Spawn("status", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, ok := sup.Status(id)
		return ok && rec.Status.Terminal()
	}, 5*time.Second, 50*time.Millisecond)

	resp, err = http.Post(srv.URL+"/api/cancel?id="+id, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	running, err := sup.Spawn("sync", nil)
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/api/cancel?id="+running, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusUnknownID(t *testing.T) {
	_, srv := newTestStack(t)
	resp, err := http.Get(srv.URL + "/api/status?id=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProjection(t *testing.T) {
	sup, srv := newTestStack(t)
	_, err := sup.Spawn("status", nil)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)
	_, leaked := views[0]["pid"]
	assert.False(t, leaked, "pid leaked in list projection")
}

func TestHealthz(t *testing.T) {
	_, srv := newTestStack(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	sup, srv := newTestStack(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	id, err := sup.Spawn("status", nil)
	require.NoError(t, err)

	var lines []string
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev supervisor.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.ID != id {
			continue
		}
		switch ev.Type {
		case supervisor.EventOutput:
			lines = append(lines, ev.Lines...)
		case supervisor.EventExit:
			require.NotNil(t, ev.Code)
			assert.Equal(t, 0, *ev.Code)
			assert.Equal(t, []string{"one", "two"}, lines, "output events must precede the exit event")
			return
		}
	}
}
