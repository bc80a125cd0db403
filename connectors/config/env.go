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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConnectors lists the connector names read by FromEnv.
const EnvConnectors = "KV_CONNECTORS"

// LoadFromEnv loads a connector from environment variables prefixed with
// KV_<NAME>_, for example KV_ORDERS_URI and KV_ORDERS_BUCKET.
func LoadFromEnv(name string) (ConnectorFileConfig, error) {
	prefix := envPrefix(name)

	c := ConnectorFileConfig{
		URI:        os.Getenv(prefix + "URI"),
		BucketName: os.Getenv(prefix + "BUCKET"),
		Password:   os.Getenv(prefix + "PASSWORD"),
	}
	if c.URI == "" {
		return ConnectorFileConfig{}, fmt.Errorf("missing required environment variable: %sURI", prefix)
	}

	if s := os.Getenv(prefix + "TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return ConnectorFileConfig{}, fmt.Errorf("invalid timeout format: %s", s)
		}
		c.TimeoutMs = int(d.Milliseconds())
	}

	p := &PoolingConfig{
		ExhaustedAction:      os.Getenv(prefix + "EXHAUSTED_ACTION"),
		InitialisationPolicy: os.Getenv(prefix + "INITIALISATION_POLICY"),
	}
	set := p.ExhaustedAction != "" || p.InitialisationPolicy != ""

	for _, field := range []struct {
		suffix string
		dst    **int
	}{
		{"MAX_ACTIVE", &p.MaxActive},
		{"MAX_IDLE", &p.MaxIdle},
	} {
		s := os.Getenv(prefix + field.suffix)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return ConnectorFileConfig{}, fmt.Errorf("invalid %s%s: %s", prefix, field.suffix, s)
		}
		*field.dst = &n
		set = true
	}
	if s := os.Getenv(prefix + "MAX_WAIT"); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ConnectorFileConfig{}, fmt.Errorf("invalid %sMAX_WAIT: %s", prefix, s)
		}
		p.MaxWaitMs = &ms
		set = true
	}
	if set {
		c.Pooling = p
	}
	return c, nil
}

// FromEnv builds a File from the connectors named in KV_CONNECTORS, a
// comma separated list.
func FromEnv() (*File, error) {
	f := &File{Connectors: make(map[string]ConnectorFileConfig)}
	for _, name := range strings.Split(os.Getenv(EnvConnectors), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c, err := LoadFromEnv(name)
		if err != nil {
			return nil, err
		}
		f.Connectors[name] = c
	}
	if len(f.Connectors) == 0 {
		return nil, fmt.Errorf("no connectors configured: set %s", EnvConnectors)
	}
	f.normalise()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func envPrefix(name string) string {
	name = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	return "KV_" + name + "_"
}
