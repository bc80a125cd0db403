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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// SecretPrefix marks a password that is resolved through a SecretsManager.
// The form is secret:<ref>#<field>; the field defaults to "password".
const SecretPrefix = "secret:"

// SecretsManager retrieves secrets as field maps.
type SecretsManager interface {
	GetSecret(ctx context.Context, ref string) (map[string]string, error)
}

// secretsClient is the part of the AWS client the manager uses.
type secretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager implements SecretsManager using AWS Secrets Manager
type AWSSecretsManager struct {
	client secretsClient
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *zap.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newAWSSecretsManager(secretsmanager.NewFromConfig(cfg), opts), nil
}

func newAWSSecretsManager(client secretsClient, opts AWSSecretsManagerOptions) *AWSSecretsManager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger.Named("secrets"),
	}
}

// GetSecret retrieves a secret from AWS Secrets Manager. A JSON object
// secret yields its fields; any other secret string yields {"value": s}.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, ref string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[ref]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		s.logger.Debug("Cache hit for secret", zap.String("secret", maskRef(ref)))
		return entry.value, nil
	}

	s.logger.Debug("Fetching secret from AWS Secrets Manager", zap.String("secret", maskRef(ref)))
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskRef(ref), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskRef(ref))
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &fields); err != nil {
		fields = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[ref] = &secretCacheEntry{value: fields, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	s.logger.Info("Retrieved and cached secret", zap.String("secret", maskRef(ref)))
	return fields, nil
}

// InvalidateSecret removes a secret from the cache
func (s *AWSSecretsManager) InvalidateSecret(ref string) {
	s.mu.Lock()
	delete(s.cache, ref)
	s.mu.Unlock()
}

// InvalidateAll clears the entire secret cache
func (s *AWSSecretsManager) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*secretCacheEntry)
	s.mu.Unlock()
}

// maskRef masks a secret reference for logging (shows only last 8 characters)
func maskRef(ref string) string {
	if len(ref) <= 12 {
		return "***"
	}
	return "..." + ref[len(ref)-8:]
}

// LocalSecretsManager keeps secrets in memory. Useful for development and tests.
type LocalSecretsManager struct {
	secrets map[string]map[string]string
	mu      sync.RWMutex
}

// NewLocalSecretsManager creates an empty local secrets manager.
func NewLocalSecretsManager() *LocalSecretsManager {
	return &LocalSecretsManager{secrets: make(map[string]map[string]string)}
}

// GetSecret retrieves a secret from local storage
func (s *LocalSecretsManager) GetSecret(_ context.Context, ref string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if secret, exists := s.secrets[ref]; exists {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found in local secrets manager", ref)
}

// SetSecret stores a secret locally
func (s *LocalSecretsManager) SetSecret(ref string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ref] = value
}

// EnvSecretsManager reads secrets from environment variables. The
// reference is a variable prefix: ref ORDERS yields ORDERS_PASSWORD as
// field "password".
type EnvSecretsManager struct{}

// NewEnvSecretsManager creates a secrets manager that reads from environment variables
func NewEnvSecretsManager() *EnvSecretsManager {
	return &EnvSecretsManager{}
}

// GetSecret collects every <ref>_<FIELD> variable.
func (s *EnvSecretsManager) GetSecret(_ context.Context, ref string) (map[string]string, error) {
	prefix := ref + "_"
	fields := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) || value == "" {
			continue
		}
		fields[strings.ToLower(strings.TrimPrefix(name, prefix))] = value
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", ref)
	}
	return fields, nil
}

// IsSecretRef reports whether s is a secret:<ref> reference.
func IsSecretRef(s string) bool {
	return strings.HasPrefix(s, SecretPrefix)
}

// ResolveSecret returns s unchanged unless it is a secret reference, in
// which case the referenced field is looked up.
func ResolveSecret(ctx context.Context, sm SecretsManager, s string) (string, error) {
	if !IsSecretRef(s) {
		return s, nil
	}
	ref, field, _ := strings.Cut(strings.TrimPrefix(s, SecretPrefix), "#")
	if ref == "" {
		return "", fmt.Errorf("empty secret reference")
	}
	if field == "" {
		field = "password"
	}
	if sm == nil {
		return "", fmt.Errorf("secret %s referenced but no secrets manager configured", maskRef(ref))
	}

	fields, err := sm.GetSecret(ctx, ref)
	if err != nil {
		return "", err
	}
	value, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("secret %s has no field %q", maskRef(ref), field)
	}
	return value, nil
}

// ResolveSecrets replaces secret references in connector and step
// passwords.
func (f *File) ResolveSecrets(ctx context.Context, sm SecretsManager) error {
	for _, name := range f.ConnectorNames() {
		c := f.Connectors[name]
		password, err := ResolveSecret(ctx, sm, c.Password)
		if err != nil {
			return fmt.Errorf("connector '%s': %w", name, err)
		}
		c.Password = password
		f.Connectors[name] = c
	}
	for i := range f.Flows {
		for j := range f.Flows[i].Steps {
			step := &f.Flows[i].Steps[j]
			password, err := ResolveSecret(ctx, sm, step.Password)
			if err != nil {
				return fmt.Errorf("flow '%s' step %d: %w", f.Flows[i].Name, j, err)
			}
			step.Password = password
		}
	}
	return nil
}
