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

package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/base"
	"github.com/ryan1234/mule-couchbase/connectors/kvconnector"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
	"github.com/ryan1234/mule-couchbase/connectors/processor"
	"github.com/ryan1234/mule-couchbase/connectors/registry"
	"github.com/ryan1234/mule-couchbase/connectors/value"
)

const maxBodyBytes = 1 << 20

// ConnectorInfo describes a registered connector.
type ConnectorInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// KeyResponse is the body of key requests.
type KeyResponse struct {
	Connector string       `json:"connector"`
	Key       string       `json:"key"`
	Found     *bool        `json:"found,omitempty"`
	Value     *value.Value `json:"value,omitempty"`
	Stored    bool         `json:"stored,omitempty"`
	Removed   *bool        `json:"removed,omitempty"`
}

// FlowResponse is the body of a flow run.
type FlowResponse struct {
	Flow       string                 `json:"flow"`
	Payload    value.Value            `json:"payload"`
	Properties map[string]value.Value `json:"properties,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.HealthCheck(r.Context())

	healthy := true
	for _, status := range statuses {
		if !status.Healthy {
			healthy = false
		}
	}
	code := http.StatusOK
	state := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     state,
		"connectors": statuses,
	}, s.logger)
}

func (s *Server) listConnectorsHandler(w http.ResponseWriter, r *http.Request) {
	names := s.registry.List()
	infos := make([]ConnectorInfo, 0, len(names))
	for _, name := range names {
		c, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, ConnectorInfo{
			Name:         name,
			Type:         c.Type(),
			Version:      c.Version(),
			Capabilities: c.Capabilities(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connectors": infos,
		"count":      len(infos),
	}, s.logger)
}

func (s *Server) connectorHealthHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, err := s.registry.HealthCheckSingle(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status, s.logger)
}

func (s *Server) connectorStatsHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	m, err := s.registry.Manager(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connector": name,
		"profile":   m.Config().Profile,
		"buckets":   m.Stats(),
	}, s.logger)
}

func (s *Server) clearIdleHandler(w http.ResponseWriter, r *http.Request) {
	name, bucket := mux.Vars(r)["name"], mux.Vars(r)["bucket"]
	m, err := s.registry.Manager(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := m.ClearIdle(r.Context(), bucket); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connector": name,
		"bucket":    bucket,
		"stats":     m.Stats()[bucket],
	}, s.logger)
}

func (s *Server) getKeyHandler(w http.ResponseWriter, r *http.Request) {
	name, key := mux.Vars(r)["name"], mux.Vars(r)["key"]
	args, ok := s.keyArgs(w, r, name, key)
	if !ok {
		return
	}
	p := processor.NewGetProcessor(s.registry, args, s.processorOptions()...)

	msg, err := p.Process(r.Context(), value.NewMessage(value.Null()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	found := !msg.Payload.IsNull()
	resp := KeyResponse{Connector: name, Key: key, Found: &found}
	code := http.StatusNotFound
	if found {
		resp.Value = &msg.Payload
		code = http.StatusOK
	}
	writeJSON(w, code, resp, s.logger)
}

func (s *Server) storeKeyHandler(w http.ResponseWriter, r *http.Request) {
	name, key := mux.Vars(r)["name"], mux.Vars(r)["key"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", s.logger)
		return
	}
	keyArgs, ok := s.keyArgs(w, r, name, key)
	if !ok {
		return
	}
	args := processor.StoreArgs{
		Args:  keyArgs,
		Value: value.String(string(body)),
	}
	if ttl := r.URL.Query().Get("ttl"); ttl != "" {
		n, err := strconv.ParseInt(ttl, 10, 64)
		if err != nil || n < 0 || n > processor.MaxTTLSeconds {
			writeError(w, http.StatusBadRequest, processor.ErrInvalidTTL.Error(), s.logger)
			return
		}
		args.TTL = value.Int(n)
	}

	p := processor.NewStoreProcessor(s.registry, args, s.processorOptions()...)
	if _, err := p.Process(r.Context(), value.NewMessage(value.Null())); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, KeyResponse{Connector: name, Key: key, Stored: true}, s.logger)
}

func (s *Server) removeKeyHandler(w http.ResponseWriter, r *http.Request) {
	name, key := mux.Vars(r)["name"], mux.Vars(r)["key"]
	args, ok := s.keyArgs(w, r, name, key)
	if !ok {
		return
	}
	p := processor.NewRemoveProcessor(s.registry, args, s.processorOptions()...)

	msg, err := p.Process(r.Context(), value.NewMessage(value.Null()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, _ := msg.Property(processor.RemovedProperty)
	removed, _ := v.Scalar().(bool)
	writeJSON(w, http.StatusOK, KeyResponse{Connector: name, Key: key, Removed: &removed}, s.logger)
}

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	var names []string
	if s.flows != nil {
		names = s.flows.FlowNames()
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]interface{}{"flows": names}, s.logger)
}

// runFlowHandler runs a flow. A JSON body becomes a structured payload,
// any other body a string. Query parameters become flow variables.
func (s *Server) runFlowHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["flow"]
	if s.flows == nil {
		writeError(w, http.StatusNotFound, "flow not found: "+name, s.logger)
		return
	}
	flow, ok := s.flows.Flow(name)
	if !ok {
		writeError(w, http.StatusNotFound, "flow not found: "+name, s.logger)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", s.logger)
		return
	}
	payload := value.Null()
	if len(body) > 0 {
		payload = value.String(string(body))
		if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
			if payload, err = value.ParseJSON(body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), s.logger)
				return
			}
		}
	}

	msg := value.NewMessage(payload)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			msg.SetVariable(k, value.String(vs[0]))
		}
	}

	out, err := flow.Process(r.Context(), msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FlowResponse{Flow: name, Payload: out.Payload, Properties: out.Properties}, s.logger)
}

// keyArgs builds literal processor arguments from the request. It writes a
// 400 and reports false when retryMax is not a non-negative integer.
func (s *Server) keyArgs(w http.ResponseWriter, r *http.Request, name, key string) (processor.Args, bool) {
	args := processor.NewLiteralArgs(name, key)
	q := r.URL.Query()
	if bucket := firstNonEmpty(q.Get("bucket"), r.Header.Get(HeaderBucket)); bucket != "" {
		args.BucketName = value.String(bucket)
	}
	if password := firstNonEmpty(q.Get("password"), r.Header.Get(HeaderPassword)); password != "" {
		args.Password = value.String(password)
	}
	if retryMax := q.Get("retryMax"); retryMax != "" {
		n, err := strconv.Atoi(retryMax)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "retryMax must be a non-negative integer", s.logger)
			return processor.Args{}, false
		}
		args.RetryMax = n
	}
	return args, true
}

func (s *Server) processorOptions() []processor.Option {
	opts := []processor.Option{processor.WithLogger(s.logger)}
	if s.retryInterval > 0 {
		opts = append(opts, processor.WithRetryInterval(s.retryInterval))
	}
	return opts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNotKVStore),
		errors.Is(err, registry.ErrAmbiguousRef),
		errors.Is(err, kvconnector.ErrMissingBucket),
		errors.Is(err, kvconnector.ErrMissingPassword),
		errors.Is(err, processor.ErrMissingKey),
		errors.Is(err, processor.ErrInvalidTTL),
		errors.Is(err, value.ErrExpression),
		errors.Is(err, value.ErrNotConvertible):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrPoolExhausted), errors.Is(err, pool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, base.ErrOperationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Int("status", code), zap.Error(err))
	}
	writeError(w, code, err.Error(), s.logger)
}

func writeError(w http.ResponseWriter, status int, message string, logger *zap.Logger) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	}, logger)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Error encoding response", zap.Error(err))
	}
}
