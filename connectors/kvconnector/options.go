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

package kvconnector

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ryan1234/mule-couchbase/connectors/base"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
)

// Option and credential keys of base.ConnectorConfig
const (
	CredentialBucketName = "bucket_name"
	CredentialPassword   = "password"

	OptionMaxActive            = "max_active"
	OptionMaxIdle              = "max_idle"
	OptionMaxWait              = "max_wait"
	OptionExhaustedAction      = "exhausted_action"
	OptionInitialisationPolicy = "initialisation_policy"
	OptionEvictionInterval     = "eviction_interval"
	OptionMinEvictableIdle     = "min_evictable_idle"
)

// ConfigFromConnectorConfig maps a generic connector configuration onto a
// manager Config. Pooling options not present keep their defaults.
func ConfigFromConnectorConfig(cc *base.ConnectorConfig) (Config, error) {
	cfg := Config{
		Name:       cc.Name,
		URI:        cc.ConnectionURL,
		BucketName: cc.Credentials[CredentialBucketName],
		Password:   cc.Credentials[CredentialPassword],
		Profile:    pool.DefaultPoolingProfile(),
	}
	if cfg.URI == "" {
		return Config{}, fmt.Errorf("connection_url is required")
	}

	var err error
	if cfg.Profile.MaxActive, err = intOption(cc.Options, OptionMaxActive, cfg.Profile.MaxActive); err != nil {
		return Config{}, err
	}
	if cfg.Profile.MaxIdle, err = intOption(cc.Options, OptionMaxIdle, cfg.Profile.MaxIdle); err != nil {
		return Config{}, err
	}
	if cfg.Profile.MaxWait, err = millisOption(cc.Options, OptionMaxWait, cfg.Profile.MaxWait); err != nil {
		return Config{}, err
	}
	if cfg.Profile.EvictionInterval, err = millisOption(cc.Options, OptionEvictionInterval, 0); err != nil {
		return Config{}, err
	}
	if cfg.Profile.MinEvictableIdle, err = millisOption(cc.Options, OptionMinEvictableIdle, 0); err != nil {
		return Config{}, err
	}
	if s, ok := cc.Options[OptionExhaustedAction].(string); ok && s != "" {
		if cfg.Profile.ExhaustedAction, err = pool.ParseExhaustedAction(s); err != nil {
			return Config{}, err
		}
	}
	if s, ok := cc.Options[OptionInitialisationPolicy].(string); ok && s != "" {
		if cfg.Profile.InitialisationPolicy, err = pool.ParseInitialisationPolicy(s); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// ToConnectorConfig is the inverse of ConfigFromConnectorConfig.
func (c Config) ToConnectorConfig() *base.ConnectorConfig {
	return &base.ConnectorConfig{
		Name:          c.Name,
		Type:          ConnectorType,
		ConnectionURL: c.URI,
		Credentials: map[string]string{
			CredentialBucketName: c.BucketName,
			CredentialPassword:   c.Password,
		},
		Options: map[string]interface{}{
			OptionMaxActive:            c.Profile.MaxActive,
			OptionMaxIdle:              c.Profile.MaxIdle,
			OptionMaxWait:              c.Profile.MaxWait.Milliseconds(),
			OptionExhaustedAction:      c.Profile.ExhaustedAction.String(),
			OptionInitialisationPolicy: c.Profile.InitialisationPolicy.String(),
			OptionEvictionInterval:     c.Profile.EvictionInterval.Milliseconds(),
			OptionMinEvictableIdle:     c.Profile.MinEvictableIdle.Milliseconds(),
		},
	}
}

func intOption(opts map[string]interface{}, name string, def int) (int, error) {
	switch v := opts[name].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %s type %T", name, v)
	}
}

// millisOption reads a duration given in milliseconds or as a duration string.
func millisOption(opts map[string]interface{}, name string, def time.Duration) (time.Duration, error) {
	if s, ok := opts[name].(string); ok && s != "" {
		if _, err := strconv.Atoi(s); err != nil {
			d, perr := time.ParseDuration(s)
			if perr != nil {
				return 0, fmt.Errorf("invalid %s: %w", name, perr)
			}
			return d, nil
		}
	}
	if d, ok := opts[name].(time.Duration); ok {
		return d, nil
	}
	if _, ok := opts[name]; !ok {
		return def, nil
	}
	ms, err := intOption(opts, name, int(def.Milliseconds()))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
