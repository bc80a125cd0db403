// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the key-value connectors and flows over HTTP.
//
// Endpoints:
//   - GET /health - health of every connector
//   - GET /api/v1/connectors - registered connectors
//   - GET /api/v1/connectors/{name}/health - health of one connector
//   - GET /api/v1/connectors/{name}/stats - pool statistics per bucket
//   - DELETE /api/v1/connectors/{name}/buckets/{bucket}/idle - drop idle connections of a bucket
//   - GET|PUT|DELETE /api/v1/connectors/{name}/keys/{key} - read, write or remove a key
//   - GET /api/v1/flows - flow names
//   - POST /api/v1/flows/{flow} - run a flow with the request body as payload
//   - GET /metrics - Prometheus metrics, when a handler is given
//
// Key requests take the bucket and password from the bucket and password
// query parameters or the X-KV-Bucket and X-KV-Password headers, falling
// back to the connector configuration, and retryMax from the query. Keys
// and bodies are used as given; #[...] is not evaluated. PUT takes ttl in
// seconds.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/processor"
	"github.com/ryan1234/mule-couchbase/connectors/registry"
)

// Request headers
const (
	HeaderRequestID = "X-Request-ID"
	HeaderBucket    = "X-KV-Bucket"
	HeaderPassword  = "X-KV-Password"
)

// FlowSource looks up flows by name.
type FlowSource interface {
	Flow(name string) (*processor.Flow, bool)
	FlowNames() []string
}

// Option configures the router.
type Option func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithCORSOrigins sets the allowed CORS origins. The default allows all.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithRetryInterval sets the processor retry interval of key requests.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Server) {
		s.retryInterval = d
	}
}

// Server holds the handler dependencies.
type Server struct {
	registry      *registry.Registry
	flows         FlowSource
	metrics       http.Handler
	corsOrigins   []string
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(reg *registry.Registry, flows FlowSource, logger *zap.Logger, opts ...Option) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry:    reg,
		flows:       flows,
		corsOrigins: []string{"*"},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods("GET")
	}

	r.HandleFunc("/api/v1/connectors", s.listConnectorsHandler).Methods("GET")
	r.HandleFunc("/api/v1/connectors/{name}/health", s.connectorHealthHandler).Methods("GET")
	r.HandleFunc("/api/v1/connectors/{name}/stats", s.connectorStatsHandler).Methods("GET")
	r.HandleFunc("/api/v1/connectors/{name}/buckets/{bucket}/idle", s.clearIdleHandler).Methods("DELETE")
	r.HandleFunc("/api/v1/connectors/{name}/keys/{key}", s.getKeyHandler).Methods("GET")
	r.HandleFunc("/api/v1/connectors/{name}/keys/{key}", s.storeKeyHandler).Methods("PUT")
	r.HandleFunc("/api/v1/connectors/{name}/keys/{key}", s.removeKeyHandler).Methods("DELETE")

	r.HandleFunc("/api/v1/flows", s.listFlowsHandler).Methods("GET")
	r.HandleFunc("/api/v1/flows/{flow}", s.runFlowHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{HeaderRequestID},
	})
	return c.Handler(r)
}

// requestID tags each request with an id, reusing the caller's when given.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Handled request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
