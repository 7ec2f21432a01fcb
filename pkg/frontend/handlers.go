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
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ProxyError is the fixed body returned when the inference backend
// cannot be reached. Failed exchanges are not retried.
type ProxyError struct {
	Error     string `json:"error"`
	Backend   string `json:"backend"`
	RequestID string `json:"request_id,omitempty"`
}

// ConfigResponse tells the chat page script which model it talks to
// and where to send completion requests.
type ConfigResponse struct {
	Model     string `json:"model"`
	APIPrefix string `json:"apiPrefix"`
	Title     string `json:"title"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !response.Ready {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigResponse{
		Model:     s.cfg.Model,
		APIPrefix: s.cfg.APIPrefix,
		Title:     s.cfg.Title,
	})
}

// handleProxy forwards one request to the inference backend with
// method, path, query, headers, and body intact, and relays the
// backend response unmodified with its status.
func (s *Server) handleProxy(c *gin.Context) {
	start := time.Now()
	requestID := c.GetString("request_id")

	if c.Request.ContentLength > s.cfg.MaxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:     "request body too large",
			RequestID: requestID,
		})
		return
	}

	target := *s.backend
	target.Path = strings.TrimSuffix(s.backend.Path, "/") + c.Request.URL.Path
	target.RawQuery = c.Request.URL.RawQuery

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), c.Request.Body)
	if err != nil {
		recordBackendError()
		c.JSON(http.StatusBadGateway, ProxyError{
			Error:     "backend request could not be built",
			Backend:   s.cfg.Backend,
			RequestID: requestID,
		})
		return
	}
	req.Header = c.Request.Header.Clone()
	req.ContentLength = c.Request.ContentLength
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		recordBackendError()
		s.logger.Error(err, "backend unreachable",
			"backend", s.cfg.Backend,
			"path", c.Request.URL.Path,
			"requestID", requestID)

		c.JSON(http.StatusBadGateway, ProxyError{
			Error:     "inference backend unreachable",
			Backend:   s.cfg.Backend,
			RequestID: requestID,
		})
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	header := c.Writer.Header()
	for key, values := range resp.Header {
		if isHopHeader(key) {
			continue
		}
		for _, value := range values {
			header.Add(key, value)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.Error(err, "relaying backend response failed", "requestID", requestID)
	}

	recordProxyRequest(c.Request.Method, strconv.Itoa(resp.StatusCode), time.Since(start))
}

// handleStatic serves the chat page assets for anything no API route
// claimed. http.FileServer resolves "/" to index.html.
func (s *Server) handleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "not found",
			RequestID: c.GetString("request_id"),
		})
		return
	}
	s.static.ServeHTTP(c.Writer, c.Request)
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(h) == http.CanonicalHeaderKey(key) {
			return true
		}
	}
	return false
}
