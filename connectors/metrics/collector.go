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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryan1234/mule-couchbase/connectors/pool"
)

// StatsSource reports pool statistics per connector and bucket.
type StatsSource func() map[string]map[string]pool.Stats

// StatsCollector exposes pool occupancy as gauges read at scrape time.
type StatsCollector struct {
	source  StatsSource
	active  *prometheus.Desc
	idle    *prometheus.Desc
	waiters *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector creates a collector over source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	labels := []string{"connector", "bucket"}
	return &StatsCollector{
		source:  source,
		active:  prometheus.NewDesc(namespace+"_pool_active_connections", "Checked-out connections", labels, nil),
		idle:    prometheus.NewDesc(namespace+"_pool_idle_connections", "Idle connections", labels, nil),
		waiters: prometheus.NewDesc(namespace+"_pool_waiters", "Acquires waiting for a connection", labels, nil),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.idle
	ch <- c.waiters
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for connector, buckets := range c.source() {
		for bucket, s := range buckets {
			ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active), connector, bucket)
			ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), connector, bucket)
			ch <- prometheus.MustNewConstMetric(c.waiters, prometheus.GaugeValue, float64(s.Waiters), connector, bucket)
		}
	}
}
