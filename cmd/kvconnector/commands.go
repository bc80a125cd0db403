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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/api"
	"github.com/ryan1234/mule-couchbase/connectors/config"
	"github.com/ryan1234/mule-couchbase/connectors/metrics"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
	"github.com/ryan1234/mule-couchbase/connectors/processor"
	"github.com/ryan1234/mule-couchbase/connectors/value"
	"github.com/ryan1234/mule-couchbase/shared/logger"
)

type ctxKey string

const appCtxKey ctxKey = "appData"

// appData is loaded once by the root command for every subcommand.
type appData struct {
	file    *config.File
	logger  *zap.Logger
	secrets config.SecretsManager
}

type rootOpts struct {
	configPath string
	logLevel   string
	secrets    string
	awsRegion  string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var opts rootOpts

	rootCmd := &cobra.Command{
		Use:           "kvconnector",
		Short:         "kvconnector runs pooled key-value store operations",
		Long:          `kvconnector loads connector definitions from a YAML or XML file, or from KV_* environment variables, and serves them over HTTP or runs single get, store and remove operations.`,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appCtxKey, app))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or XML config file (default: KV_* environment variables)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.secrets, "secrets", "env", "Secrets manager for secret: passwords (env, aws, none)")
	rootCmd.PersistentFlags().StringVar(&opts.awsRegion, "aws-region", "", "AWS region of the secrets manager")

	rootCmd.AddCommand(ServeCommand())
	rootCmd.AddCommand(GetCommand(), StoreCommand(), RemoveCommand())
	return rootCmd
}

func loadApp(ctx context.Context, opts rootOpts) (*appData, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var f *config.File
	var err error
	if strings.TrimSpace(opts.configPath) != "" {
		f, err = config.Load(opts.configPath)
	} else {
		f, err = config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := opts.logLevel
	if level == "" {
		level = f.Service.WithDefaults().LogLevel
	}
	log, err := logger.NewWithLevel("kvconnector", level)
	if err != nil {
		return nil, err
	}

	var sm config.SecretsManager
	switch strings.ToLower(opts.secrets) {
	case "", "none":
	case "env":
		sm = config.NewEnvSecretsManager()
	case "aws":
		sm, err = config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{
			Region: opts.awsRegion,
			Logger: log,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown secrets manager %q", opts.secrets)
	}

	return &appData{file: f, logger: log, secrets: sm}, nil
}

func getApp(cmd *cobra.Command) *appData {
	app, _ := cmd.Context().Value(appCtxKey).(*appData)
	return app
}

type serveOpts struct {
	addr            string
	shutdownTimeout time.Duration
}

// ServeCommand starts the HTTP API.
func ServeCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the connectors and flows over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := getApp(cmd)
			service := app.file.Service.WithDefaults()
			if opts.addr != "" {
				service.ListenAddr = opts.addr
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			rt, err := config.Build(ctx, app.file, config.BuildOptions{
				Logger:            app.logger,
				Secrets:           app.secrets,
				PoolObserver:      m.PoolObserver,
				OperationObserver: m,
			})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				metrics.NewStatsCollector(poolStats(rt)),
			)

			routerOpts := []api.Option{api.WithCORSOrigins(service.CORSOrigins)}
			if service.Metrics() {
				routerOpts = append(routerOpts, api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
			}
			srv := &http.Server{
				Addr:              service.ListenAddr,
				Handler:           api.NewRouter(rt.Registry, rt, app.logger.Named("api"), routerOpts...),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				app.logger.Info("Listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			app.logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config, then :8080)")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	return cmd
}

// poolStats reads the pool statistics of every connected manager.
func poolStats(rt *config.Runtime) metrics.StatsSource {
	return func() map[string]map[string]pool.Stats {
		out := make(map[string]map[string]pool.Stats)
		for _, name := range rt.Registry.List() {
			m, err := rt.Registry.Manager(name)
			if err != nil {
				continue
			}
			out[name] = m.Stats()
		}
		return out
	}
}

type keyOpts struct {
	connector string
	key       string
	value     string
	ttl       int
	bucket    string
	password  string
	retryMax  int
}

func (o *keyOpts) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.connector, "connector", "", "Connector name (may be omitted when only one is configured)")
	cmd.Flags().StringVarP(&o.key, "key", "k", "", "Key, used as given")
	cmd.Flags().StringVar(&o.bucket, "bucket", "", "Bucket overriding the configured one")
	cmd.Flags().StringVar(&o.password, "password", "", "Password overriding the configured one")
	cmd.Flags().IntVar(&o.retryMax, "retry-max", processor.DefaultRetryMax, "Retries after a connection failure")
	_ = cmd.MarkFlagRequired("key")
}

func (o *keyOpts) validate() error {
	if o.retryMax < 0 {
		return fmt.Errorf("--retry-max must not be negative, got %d", o.retryMax)
	}
	if o.ttl < 0 || int64(o.ttl) > processor.MaxTTLSeconds {
		return fmt.Errorf("--ttl must be between 0 and %d seconds, got %d", processor.MaxTTLSeconds, o.ttl)
	}
	return nil
}

func (o *keyOpts) args() processor.Args {
	args := processor.NewLiteralArgs(o.connector, o.key)
	if o.bucket != "" {
		args.BucketName = value.String(o.bucket)
	}
	if o.password != "" {
		args.Password = value.String(o.password)
	}
	args.RetryMax = o.retryMax
	return args
}

// runKeyCommand builds the runtime, runs p and closes the runtime.
func runKeyCommand(cmd *cobra.Command, newProcessor func(resolver processor.Resolver) processor.Processor) (*value.Message, error) {
	app := getApp(cmd)
	ctx := cmd.Context()

	rt, err := config.Build(ctx, app.file, config.BuildOptions{
		Logger:  app.logger,
		Secrets: app.secrets,
	})
	if err != nil {
		return nil, err
	}
	defer rt.Close(context.Background())

	return newProcessor(rt.Registry).Process(ctx, value.NewMessage(value.Null()))
}

// GetCommand prints the value of a key.
func GetCommand() *cobra.Command {
	var opts keyOpts
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the value of a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			msg, err := runKeyCommand(cmd, func(r processor.Resolver) processor.Processor {
				return processor.NewGetProcessor(r, opts.args(), processor.WithLogger(getApp(cmd).logger))
			})
			if err != nil {
				return err
			}
			if msg.Payload.IsNull() {
				return fmt.Errorf("key %q not found", opts.key)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.Payload.String())
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

// StoreCommand writes a key.
func StoreCommand() *cobra.Command {
	var opts keyOpts
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Write a value under a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			_, err := runKeyCommand(cmd, func(r processor.Resolver) processor.Processor {
				storeArgs := processor.StoreArgs{Args: opts.args(), Value: value.String(opts.value)}
				if opts.ttl > 0 {
					storeArgs.TTL = value.Int(int64(opts.ttl))
				}
				return processor.NewStoreProcessor(r, storeArgs, processor.WithLogger(getApp(cmd).logger))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", opts.key)
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.value, "value", "", "Value to store")
	cmd.Flags().IntVar(&opts.ttl, "ttl", 0, "Expiry in seconds, 0 for none")
	return cmd
}

// RemoveCommand deletes a key.
func RemoveCommand() *cobra.Command {
	var opts keyOpts
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			msg, err := runKeyCommand(cmd, func(r processor.Resolver) processor.Processor {
				return processor.NewRemoveProcessor(r, opts.args(), processor.WithLogger(getApp(cmd).logger))
			})
			if err != nil {
				return err
			}
			removed, _ := msg.Properties[processor.RemovedProperty].Scalar().(bool)
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", opts.key)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s did not exist\n", opts.key)
			}
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}
