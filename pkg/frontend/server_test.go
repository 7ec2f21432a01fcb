/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package frontend

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/config"
)

func testConfig(t *testing.T, backend string) *config.FrontendConfig {
	t.Helper()

	staticDir := t.TempDir()
	page := []byte("<html><body>benchmark chat</body></html>")
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), page, 0o600))

	return &config.FrontendConfig{
		Listen:         ":0",
		Backend:        backend,
		APIPrefix:      "/v1",
		Model:          "Qwen/Qwen2.5-7B-Instruct",
		Title:          "Chat",
		StaticDir:      staticDir,
		MaxBodyBytes:   1 << 20,
		RequestTimeout: 5 * time.Second,
	}
}

func setupTestServer(t *testing.T, backend string) *Server {
	t.Helper()

	server, err := New(testConfig(t, backend))
	require.NoError(t, err)
	server.SetReady(true)
	return server
}

func TestHealth(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestReadyEndpoint(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Ready)
}

func TestReadyEndpointNotReady(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")
	server.SetReady(false)

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Ready)
}

func TestConfigEndpoint(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")

	req := httptest.NewRequest("GET", "/api/config", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Qwen/Qwen2.5-7B-Instruct", response.Model)
	assert.Equal(t, "/v1", response.APIPrefix)
	assert.Equal(t, "Chat", response.Title)
}

func TestProxyForwardsVerbatim(t *testing.T) {
	var (
		gotMethod      string
		gotPath        string
		gotQuery       string
		gotContentType string
		gotAuth        string
		gotBody        string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Served-By", "vllm")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"text":"hello"}]}`)) //nolint:errcheck
	}))
	defer backend.Close()

	server := setupTestServer(t, backend.URL)

	body := `{"model":"Qwen/Qwen2.5-7B-Instruct","prompt":"hi"}`
	req := httptest.NewRequest("POST", "/v1/completions?stream=false", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/v1/completions", gotPath)
	assert.Equal(t, "stream=false", gotQuery)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, body, gotBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"choices":[{"text":"hello"}]}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "vllm", w.Header().Get("X-Served-By"))
}

func TestProxyPreservesBackendStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"overloaded"}`)) //nolint:errcheck
	}))
	defer backend.Close()

	server := setupTestServer(t, backend.URL)

	req := httptest.NewRequest("POST", "/v1/completions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, `{"error":"overloaded"}`, w.Body.String())
}

func TestProxyBackendUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	server := setupTestServer(t, backend.URL)

	req := httptest.NewRequest("POST", "/v1/completions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var response ProxyError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "inference backend unreachable", response.Error)
	assert.Equal(t, backend.URL, response.Backend)
	assert.NotEmpty(t, response.RequestID)
}

func TestProxyRejectsOversizedBody(t *testing.T) {
	cfg := testConfig(t, "http://backend:8000")
	cfg.MaxBodyBytes = 64
	server, err := New(cfg)
	require.NoError(t, err)

	body := strings.Repeat("x", 65)
	req := httptest.NewRequest("POST", "/v1/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestProxyJoinsBackendBasePath(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	server := setupTestServer(t, backend.URL+"/serving/")

	req := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/serving/v1/models", gotPath)
}

func TestStaticPage(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "benchmark chat")
}

func TestStaticRejectsNonGet(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")

	req := httptest.NewRequest("POST", "/no-such-route", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "not found", response.Error)
}

func TestRequestIDMiddleware(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")

	// Without X-Request-ID header one is generated.
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// A well-formed caller-supplied ID is kept.
	req = httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "custom-request-id")
	w = httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, "custom-request-id", w.Header().Get("X-Request-ID"))

	// A malformed one is replaced.
	req = httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "not a valid id!")
	w = httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	got := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "not a valid id!", got)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t, "http://backend:8000")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRejectsCollidingAPIPrefix(t *testing.T) {
	cfg := testConfig(t, "http://backend:8000")
	cfg.APIPrefix = "/api"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/api")
}
