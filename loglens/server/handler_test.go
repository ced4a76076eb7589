package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/loglens/loglens/config"
	"github.com/ZanzyTHEbar/loglens/loglens/conversation"
	"github.com/ZanzyTHEbar/loglens/loglens/generation/harness"
	"github.com/ZanzyTHEbar/loglens/loglens/server"
)

// stubAnalyzer records the call and returns a fixed result.
type stubAnalyzer struct {
	text, sessionID string
	result          harness.Result
	panics          bool
}

func (a *stubAnalyzer) Analyze(ctx context.Context, text, sessionID string) harness.Result {
	if a.panics {
		panic("boom")
	}
	a.text, a.sessionID = text, sessionID
	return a.result
}

func newTestServer(t *testing.T, analyzer server.Analyzer) (http.Handler, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(conversation.DefaultStoreConfig(), zerolog.Nop())
	cfg := config.ServerConfig{AllowedOrigins: []string{"*"}, CORSMaxAge: 3600}
	return server.NewServer(analyzer, store, harness.NewMetricsCollector(), cfg, zerolog.Nop()), store
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t, &stubAnalyzer{})

	w := do(h, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAnalyze_Success(t *testing.T) {
	analyzer := &stubAnalyzer{result: harness.Result{
		Code:           http.StatusOK,
		Message:        harness.MsgSuccess,
		AnalysisResult: "## 错误原因",
		SessionID:      "SESSION_1_x",
		TraceID:        "TRACE_y",
	}}
	h, _ := newTestServer(t, analyzer)

	w := do(h, http.MethodPost, "/api/log/analyze", `{"exceptionLog":"java.lang.NullPointerException","sessionId":"s1"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "java.lang.NullPointerException", analyzer.text)
	assert.Equal(t, "s1", analyzer.sessionID)
	assert.Equal(t, "TRACE_y", w.Header().Get("X-Trace-Id"))
	assert.JSONEq(t, `{"code":200,"msg":"analysis succeeded","analysisResult":"## 错误原因","sessionId":"SESSION_1_x","traceId":"TRACE_y"}`, w.Body.String())
}

func TestAnalyze_StatusMirrorsResultCode(t *testing.T) {
	analyzer := &stubAnalyzer{result: harness.Result{Code: http.StatusBadRequest, Message: harness.MsgInvalidFormat}}
	h, _ := newTestServer(t, analyzer)

	w := do(h, http.MethodPost, "/api/log/analyze", `{"exceptionLog":"hello"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid format", body["msg"])
	assert.NotContains(t, body, "analysisResult")
}

func TestAnalyze_MalformedJSON(t *testing.T) {
	analyzer := &stubAnalyzer{}
	h, _ := newTestServer(t, analyzer)

	w := do(h, http.MethodPost, "/api/log/analyze", `{"exceptionLog":`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, analyzer.text)
}

func TestAnalyze_WrongMethod(t *testing.T) {
	h, _ := newTestServer(t, &stubAnalyzer{})

	w := do(h, http.MethodGet, "/api/log/analyze", "", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGetSession(t *testing.T) {
	h, store := newTestServer(t, &stubAnalyzer{})
	store.Append("s1", conversation.UserMessage("q"), conversation.AssistantMessage("a"))

	w := do(h, http.MethodGet, "/api/log/sessions/s1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SessionID string `json:"sessionId"`
		History   []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "s1", body.SessionID)
	require.Len(t, body.History, 2)
	assert.Equal(t, "user", body.History[0].Role)
	assert.Equal(t, "a", body.History[1].Content)

	w = do(h, http.MethodGet, "/api/log/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStats(t *testing.T) {
	h, store := newTestServer(t, &stubAnalyzer{})
	store.Append("s1", conversation.UserMessage("q"))

	w := do(h, http.MethodGet, "/api/log/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "sessions")
	assert.Contains(t, body, "analysis")
}

func TestCORS_Preflight(t *testing.T) {
	h, _ := newTestServer(t, &stubAnalyzer{})

	w := do(h, http.MethodOptions, "/api/log/analyze", "", map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "content-type",
	})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	store := conversation.NewStore(conversation.DefaultStoreConfig(), zerolog.Nop())
	cfg := config.ServerConfig{AllowedOrigins: []string{"https://app.example.com"}}
	h := server.NewServer(&stubAnalyzer{}, store, harness.NewMetricsCollector(), cfg, zerolog.Nop())

	w := do(h, http.MethodGet, "/healthz", "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = do(h, http.MethodGet, "/healthz", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	h, _ := newTestServer(t, &stubAnalyzer{panics: true})

	w := do(h, http.MethodPost, "/api/log/analyze", `{"exceptionLog":"x"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
