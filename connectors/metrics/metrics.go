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

// Package metrics exports connection pool and store operation metrics to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ryan1234/mule-couchbase/connectors/kvconnector"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
)

const namespace = "kvconnector"

// Metrics holds the collectors of one registry.
type Metrics struct {
	operations         *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationErrors    *prometheus.CounterVec
	created            *prometheus.CounterVec
	destroyed          *prometheus.CounterVec
	exhausted          *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	waitDuration       *prometheus.HistogramVec
}

var _ kvconnector.OperationObserver = (*Metrics)(nil)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"connector", "operation", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_milliseconds",
				Help:      "Store operation duration in milliseconds, retries included",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
			},
			[]string{"connector", "operation"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Total number of failed store operations by error type",
			},
			[]string{"connector", "operation", "error_type"},
		),
		created: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_created_total",
				Help:      "Connections created by the pool",
			},
			[]string{"connector", "bucket"},
		),
		destroyed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_destroyed_total",
				Help:      "Connections destroyed by the pool",
			},
			[]string{"connector", "bucket"},
		),
		exhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_exhausted_total",
				Help:      "Acquires that found the partition at capacity",
			},
			[]string{"connector", "bucket"},
		),
		validationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_validation_failures_total",
				Help:      "Connections that failed validation",
			},
			[]string{"connector", "bucket"},
		),
		waitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_wait_duration_seconds",
				Help:      "Time acquires spent waiting for a connection",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"connector", "bucket"},
		),
	}
}

// ObserveOperation records the outcome of a store operation.
func (m *Metrics) ObserveOperation(connector, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.operationErrors.WithLabelValues(connector, operation, ErrorType(err)).Inc()
	}
	m.operations.WithLabelValues(connector, operation, status).Inc()
	m.operationDuration.WithLabelValues(connector, operation).Observe(float64(duration.Milliseconds()))
}

// PoolObserver returns a pool.Observer labelling events with connector.
func (m *Metrics) PoolObserver(connector string) pool.Observer {
	return &poolObserver{m: m, connector: connector}
}

type poolObserver struct {
	m         *Metrics
	connector string
}

func (o *poolObserver) ConnectionCreated(bucket string) {
	o.m.created.WithLabelValues(o.connector, bucket).Inc()
}

func (o *poolObserver) ConnectionDestroyed(bucket string) {
	o.m.destroyed.WithLabelValues(o.connector, bucket).Inc()
}

func (o *poolObserver) PoolExhausted(bucket string) {
	o.m.exhausted.WithLabelValues(o.connector, bucket).Inc()
}

func (o *poolObserver) ValidationFailed(bucket string) {
	o.m.validationFailures.WithLabelValues(o.connector, bucket).Inc()
}

func (o *poolObserver) WaitCompleted(bucket string, waited time.Duration) {
	o.m.waitDuration.WithLabelValues(o.connector, bucket).Observe(waited.Seconds())
}

// ErrorType classifies an operation error for the error_type label.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, pool.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, pool.ErrValidationFailed):
		return "validation"
	case errors.Is(err, pool.ErrConnectionCreationFailed):
		return "connection_creation"
	case errors.Is(err, pool.ErrPoolClosed):
		return "pool_closed"
	case kvstore.IsConnectionError(err):
		return "connection"
	default:
		return "other"
	}
}
