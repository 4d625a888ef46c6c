package web_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimpressionist/engine/engine"
	"github.com/dimpressionist/engine/web"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.ProgressIntervalMs = 0
	eng, err := engine.New(&cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(web.New(eng, &cfg, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGenerateNewEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/generate/new", map[string]any{
		"prompt": "a blue ball on green grass",
		"seed":   42,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	rec := body["record"].(map[string]any)
	assert.True(t, strings.HasPrefix(rec["id"].(string), "gen_"))
	assert.Equal(t, "a blue ball on green grass", rec["prompt"])
	assert.EqualValues(t, 42, rec["seed"])
	assert.EqualValues(t, 28, rec["steps"])
	assert.NotEmpty(t, rec["image_ref"])
}

func TestGenerateNewEndpoint_InvalidParameters(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/generate/new", map[string]any{
		"prompt": "a cat",
		"steps":  5,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_PARAMETERS", errObj["code"])
}

func TestGenerateNewEndpoint_BadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/generate/new", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefineEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/generate/new", map[string]any{"prompt": "a cat"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/generate/refine", map[string]any{"modification": "add a hat"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	rec := body["record"].(map[string]any)
	assert.Equal(t, "refinement", rec["kind"])
	assert.Equal(t, "a cat, a hat", rec["prompt"])
	assert.NotEmpty(t, rec["parent_id"])
}

func TestRefineEndpoint_NoCurrentImage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/generate/refine", map[string]any{"modification": "add a hat"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "NO_CURRENT_IMAGE", errObj["code"])
}

func TestCancelEndpoint_NotGenerating(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/generate/cancel", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionCurrentEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/session/current")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.True(t, strings.HasPrefix(body["session_id"].(string), "sess_"))
	assert.EqualValues(t, 0, body["generation_count"])
	assert.Nil(t, body["current"])

	postJSON(t, srv.URL+"/api/v1/generate/new", map[string]any{"prompt": "a cat"}).Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/session/current")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.EqualValues(t, 1, body["generation_count"])
	assert.NotNil(t, body["current"])
}

func TestSessionHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/api/v1/generate/new", map[string]any{"prompt": "a cat"}).Body.Close()
	postJSON(t, srv.URL+"/api/v1/generate/refine", map[string]any{"modification": "add a hat"}).Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/session/history?limit=1&type=refinement")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.EqualValues(t, 1, body["total"])
	assert.Len(t, body["records"], 1)

	resp, err = http.Get(srv.URL + "/api/v1/session/history?type=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionClearEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/api/v1/generate/new", map[string]any{"prompt": "a cat"}).Body.Close()

	resp := postJSON(t, srv.URL+"/api/v1/session/clear", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.EqualValues(t, 1, body["deleted_count"])
}

func TestConfigEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/config")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	defaults := body["default_parameters"].(map[string]any)
	assert.EqualValues(t, 28, defaults["steps"])
	limits := body["limits"].(map[string]any)
	assert.EqualValues(t, 500, limits["max_prompt_length"])
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/system/status")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, "idle", body["state"])
}

func TestWebSocket_ConnectAndPing(t *testing.T) {
	srv, eng := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, eng.Store().SessionID(), hello["session_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe"}))
	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, "generation_progress", ack["channel"])
}

func TestWebSocket_StreamsGeneration(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))

	resp := postJSON(t, srv.URL+"/api/v1/generate/new", map[string]any{"prompt": "a cat"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sawProgress := false
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg["type"] {
		case "progress":
			sawProgress = true
		case "complete":
			assert.NotNil(t, msg["record"])
			assert.True(t, sawProgress, "progress events should precede completion")
			return
		case "error":
			t.Fatalf("unexpected error event: %v", msg)
		}
	}
}
