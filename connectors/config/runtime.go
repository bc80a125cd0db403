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
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/base"
	"github.com/ryan1234/mule-couchbase/connectors/kvconnector"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
	"github.com/ryan1234/mule-couchbase/connectors/processor"
	"github.com/ryan1234/mule-couchbase/connectors/registry"
	"github.com/ryan1234/mule-couchbase/connectors/value"
)

// BuildOptions wires optional collaborators into the built runtime.
type BuildOptions struct {
	Logger            *zap.Logger
	Secrets           SecretsManager
	ClientFactory     kvstore.ClientFactory
	PoolObserver      func(connector string) pool.Observer
	OperationObserver kvconnector.OperationObserver
	RetryInterval     time.Duration
}

// Runtime holds the connected managers and the flows built from a File.
type Runtime struct {
	Registry *registry.Registry
	Service  ServiceConfig

	flows  map[string]*processor.Flow
	logger *zap.Logger
}

// Build resolves the secret references of f in place, connects a manager
// per connector and builds the flows. With Service.LazyConnect the managers
// are only registered as configurations and connect on first use. On error
// every manager already connected is disconnected.
func Build(ctx context.Context, f *File, opts BuildOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := f.ResolveSecrets(ctx, opts.Secrets); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	rt := &Runtime{
		Registry: registry.NewRegistry(logger),
		Service:  f.Service.WithDefaults(),
		flows:    make(map[string]*processor.Flow, len(f.Flows)),
		logger:   logger,
	}

	if rt.Service.LazyConnect {
		rt.Registry.SetFactory(func(cc *base.ConnectorConfig) (base.Connector, error) {
			if cc.Type != kvconnector.ConnectorType {
				return nil, fmt.Errorf("unsupported connector type '%s'", cc.Type)
			}
			return kvconnector.NewManager(kvconnector.Config{Name: cc.Name}, managerOptions(cc.Name, logger, opts)...), nil
		})
	}

	for _, name := range f.ConnectorNames() {
		cfg, err := f.ManagerConfig(name)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		cc := cfg.ToConnectorConfig()
		cc.Timeout = f.Connectors[name].Timeout()

		if rt.Service.LazyConnect {
			err = rt.Registry.AddConfig(cc)
		} else {
			err = rt.Registry.Register(name, kvconnector.NewManager(cfg, managerOptions(name, logger, opts)...), cc)
		}
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
	}

	var procOpts []processor.Option
	procOpts = append(procOpts, processor.WithLogger(logger.Named("processor")))
	if opts.RetryInterval > 0 {
		procOpts = append(procOpts, processor.WithRetryInterval(opts.RetryInterval))
	}
	for _, fc := range f.Flows {
		steps := make([]processor.Processor, 0, len(fc.Steps))
		for _, step := range fc.Steps {
			p, err := NewProcessor(step, rt.Registry, procOpts...)
			if err != nil {
				rt.Close(ctx)
				return nil, fmt.Errorf("flow '%s': %w", fc.Name, err)
			}
			steps = append(steps, p)
		}
		rt.flows[fc.Name] = processor.NewFlow(fc.Name, logger.Named("flow"), steps...)
	}

	logger.Info("Runtime built",
		zap.Int("connectors", len(rt.Registry.Names())),
		zap.Int("connected", rt.Registry.Count()),
		zap.Bool("lazy_connect", rt.Service.LazyConnect),
		zap.Int("flows", len(rt.flows)))
	return rt, nil
}

func managerOptions(name string, logger *zap.Logger, opts BuildOptions) []kvconnector.Option {
	managerOpts := []kvconnector.Option{kvconnector.WithLogger(logger.Named("kv"))}
	if opts.ClientFactory != nil {
		managerOpts = append(managerOpts, kvconnector.WithClientFactory(opts.ClientFactory))
	}
	if opts.PoolObserver != nil {
		managerOpts = append(managerOpts, kvconnector.WithPoolObserver(opts.PoolObserver(name)))
	}
	if opts.OperationObserver != nil {
		managerOpts = append(managerOpts, kvconnector.WithOperationObserver(opts.OperationObserver))
	}
	return managerOpts
}

// NewProcessor creates the processor of a step.
func NewProcessor(step StepConfig, resolver processor.Resolver, opts ...processor.Option) (processor.Processor, error) {
	args := processor.NewArgs(step.ConfigRef, step.Key)
	if step.BucketName != "" {
		args.BucketName = value.String(step.BucketName)
	}
	if step.Password != "" {
		args.Password = value.String(step.Password)
	}
	if step.RetryMax != nil {
		args.RetryMax = *step.RetryMax
	}

	switch step.Operation {
	case OperationGet:
		return processor.NewGetProcessor(resolver, args, opts...), nil
	case OperationStore:
		storeArgs := processor.StoreArgs{Args: args, Value: value.String(step.Value)}
		if step.TTL != "" {
			storeArgs.TTL = value.String(step.TTL)
		}
		return processor.NewStoreProcessor(resolver, storeArgs, opts...), nil
	case OperationRemove:
		return processor.NewRemoveProcessor(resolver, args, opts...), nil
	default:
		return nil, fmt.Errorf("unknown operation '%s'", step.Operation)
	}
}

// Flow returns the named flow.
func (r *Runtime) Flow(name string) (*processor.Flow, bool) {
	f, ok := r.flows[name]
	return f, ok
}

// FlowNames returns the flow names, sorted.
func (r *Runtime) FlowNames() []string {
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close disconnects every manager.
func (r *Runtime) Close(ctx context.Context) {
	r.Registry.DisconnectAll(ctx)
}
