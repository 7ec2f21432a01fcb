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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Proxy traffic metrics, registered on the default registry and served
// at /metrics.
var (
	proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_frontend_proxy_requests_total",
			Help: "Total number of proxied requests by method and backend status",
		},
		[]string{"method", "status"},
	)

	proxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_frontend_proxy_request_duration_seconds",
			Help:    "Duration of proxied requests by method",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~102s, completions are slow
		},
		[]string{"method"},
	)

	proxyBackendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_frontend_proxy_backend_errors_total",
			Help: "Total number of proxy exchanges that never reached the backend",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_frontend_http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// recordProxyRequest records one completed backend exchange.
func recordProxyRequest(method, status string, duration time.Duration) {
	proxyRequestsTotal.WithLabelValues(method, status).Inc()
	proxyRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// recordBackendError counts an exchange that failed before the backend
// produced a response.
func recordBackendError() {
	proxyBackendErrors.Inc()
}

// recordHTTPRequest counts one handled request by matched route.
func recordHTTPRequest(method, path, status string) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}
