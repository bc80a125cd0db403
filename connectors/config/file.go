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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryan1234/mule-couchbase/connectors/kvconnector"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
)

// Step operations
const (
	OperationGet    = "get"
	OperationStore  = "store"
	OperationRemove = "remove"
)

// Service defaults
const (
	DefaultListenAddr = ":8080"
	DefaultLogLevel   = "info"
)

// File is the root of a configuration document.
type File struct {
	Version    string                         `yaml:"version"`
	Service    ServiceConfig                  `yaml:"service"`
	Connectors map[string]ConnectorFileConfig `yaml:"connectors"`
	Flows      []FlowConfig                   `yaml:"flows"`
}

// ServiceConfig holds the settings of the HTTP service.
type ServiceConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	LogLevel       string   `yaml:"log_level"`
	MetricsEnabled *bool    `yaml:"metrics_enabled,omitempty"`
	CORSOrigins    []string `yaml:"cors_origins,omitempty"`
	// LazyConnect defers connecting each connector until its first use.
	LazyConnect bool `yaml:"lazy_connect,omitempty"`
}

// ConnectorFileConfig describes one store target.
type ConnectorFileConfig struct {
	URI        string         `yaml:"uri"`
	BucketName string         `yaml:"bucket_name,omitempty"`
	Password   string         `yaml:"password,omitempty"`
	TimeoutMs  int            `yaml:"timeout_ms,omitempty"`
	Pooling    *PoolingConfig `yaml:"connection_pooling_profile,omitempty"`
}

// PoolingConfig overrides fields of the default pooling profile. Unset
// fields keep their defaults.
type PoolingConfig struct {
	MaxActive            *int   `yaml:"max_active,omitempty"`
	MaxIdle              *int   `yaml:"max_idle,omitempty"`
	MaxWaitMs            *int64 `yaml:"max_wait_ms,omitempty"`
	ExhaustedAction      string `yaml:"exhausted_action,omitempty"`
	InitialisationPolicy string `yaml:"initialisation_policy,omitempty"`
	EvictionIntervalMs   int64  `yaml:"eviction_interval_ms,omitempty"`
	MinEvictableIdleMs   int64  `yaml:"min_evictable_idle_ms,omitempty"`
}

// FlowConfig is a named sequence of operations.
type FlowConfig struct {
	Name  string       `yaml:"name"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig is one get, store or remove operation. String fields may hold
// #[...] expressions.
type StepConfig struct {
	Operation  string `yaml:"operation"`
	ConfigRef  string `yaml:"config_ref,omitempty"`
	Key        string `yaml:"key"`
	Value      string `yaml:"value,omitempty"`
	TTL        string `yaml:"ttl,omitempty"`
	BucketName string `yaml:"bucket_name,omitempty"`
	Password   string `yaml:"password,omitempty"`
	RetryMax   *int   `yaml:"retry_max,omitempty"`
}

// Load reads a configuration file. Files ending in .xml are parsed as XML,
// everything else as YAML.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return ParseXML(strings.NewReader(expandEnvVars(string(data))))
	}
	return ParseYAML(data)
}

// ParseYAML parses a YAML document after expanding environment variables.
func ParseYAML(data []byte) (*File, error) {
	expanded := expandEnvVars(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	f.normalise()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR}, ${VAR:-default} and $VAR. Undefined
// variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

func (f *File) normalise() {
	if f.Connectors == nil {
		f.Connectors = make(map[string]ConnectorFileConfig)
	}
	for i := range f.Flows {
		if strings.TrimSpace(f.Flows[i].Name) == "" {
			f.Flows[i].Name = fmt.Sprintf("flow-%d", i+1)
		}
		for j := range f.Flows[i].Steps {
			step := &f.Flows[i].Steps[j]
			step.Operation = strings.ToLower(strings.TrimSpace(step.Operation))
		}
	}
}

// Validate checks connector definitions and flow references.
func (f *File) Validate() error {
	var errs []error

	for _, name := range f.ConnectorNames() {
		c := f.Connectors[name]
		if c.URI == "" {
			errs = append(errs, fmt.Errorf("connector '%s' must specify a uri", name))
		}
		if _, err := c.Pooling.Profile(); err != nil {
			errs = append(errs, fmt.Errorf("connector '%s': %w", name, err))
		}
	}

	seen := make(map[string]bool, len(f.Flows))
	for _, flow := range f.Flows {
		if seen[flow.Name] {
			errs = append(errs, fmt.Errorf("duplicate flow '%s'", flow.Name))
		}
		seen[flow.Name] = true

		for i, step := range flow.Steps {
			if err := f.validateStep(step); err != nil {
				errs = append(errs, fmt.Errorf("flow '%s' step %d: %w", flow.Name, i, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (f *File) validateStep(step StepConfig) error {
	switch step.Operation {
	case OperationGet, OperationStore, OperationRemove:
	default:
		return fmt.Errorf("unknown operation '%s'", step.Operation)
	}
	if step.Key == "" {
		return fmt.Errorf("%s requires a key", step.Operation)
	}
	if step.RetryMax != nil && *step.RetryMax < 0 {
		return fmt.Errorf("retry_max must not be negative")
	}
	if step.ConfigRef == "" {
		if len(f.Connectors) != 1 {
			return fmt.Errorf("config_ref is required when %d connectors are defined", len(f.Connectors))
		}
		return nil
	}
	if _, ok := f.Connectors[step.ConfigRef]; !ok {
		return fmt.Errorf("unknown config_ref '%s'", step.ConfigRef)
	}
	return nil
}

// ConnectorNames returns the connector names, sorted.
func (f *File) ConnectorNames() []string {
	names := make([]string, 0, len(f.Connectors))
	for name := range f.Connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManagerConfig builds the connection manager configuration of a connector.
func (f *File) ManagerConfig(name string) (kvconnector.Config, error) {
	c, ok := f.Connectors[name]
	if !ok {
		return kvconnector.Config{}, fmt.Errorf("connector '%s' not found", name)
	}
	profile, err := c.Pooling.Profile()
	if err != nil {
		return kvconnector.Config{}, fmt.Errorf("connector '%s': %w", name, err)
	}
	return kvconnector.Config{
		Name:       name,
		URI:        c.URI,
		BucketName: c.BucketName,
		Password:   c.Password,
		Profile:    profile,
	}, nil
}

// Timeout returns the connect timeout of the connector, zero when unset.
func (c ConnectorFileConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Profile applies the overrides to pool.DefaultPoolingProfile. A nil
// receiver yields the defaults.
func (p *PoolingConfig) Profile() (pool.PoolingProfile, error) {
	profile := pool.DefaultPoolingProfile()
	if p == nil {
		return profile, nil
	}
	if p.MaxActive != nil {
		profile.MaxActive = *p.MaxActive
	}
	if p.MaxIdle != nil {
		profile.MaxIdle = *p.MaxIdle
	}
	if p.MaxWaitMs != nil {
		profile.MaxWait = time.Duration(*p.MaxWaitMs) * time.Millisecond
	}
	profile.EvictionInterval = time.Duration(p.EvictionIntervalMs) * time.Millisecond
	profile.MinEvictableIdle = time.Duration(p.MinEvictableIdleMs) * time.Millisecond

	var err error
	if p.ExhaustedAction != "" {
		if profile.ExhaustedAction, err = pool.ParseExhaustedAction(p.ExhaustedAction); err != nil {
			return pool.PoolingProfile{}, err
		}
	}
	if p.InitialisationPolicy != "" {
		if profile.InitialisationPolicy, err = pool.ParseInitialisationPolicy(p.InitialisationPolicy); err != nil {
			return pool.PoolingProfile{}, err
		}
	}
	if err := profile.Validate(); err != nil {
		return pool.PoolingProfile{}, err
	}
	return profile, nil
}

// WithDefaults fills unset service settings.
func (s ServiceConfig) WithDefaults() ServiceConfig {
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.MetricsEnabled == nil {
		enabled := true
		s.MetricsEnabled = &enabled
	}
	return s
}

// Metrics reports whether the metrics endpoint is enabled. Unset means enabled.
func (s ServiceConfig) Metrics() bool {
	return s.MetricsEnabled == nil || *s.MetricsEnabled
}
