package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/h7-ecom/api/internal/di"
	"github.com/h7-ecom/api/internal/platform/config"
	"github.com/h7-ecom/api/internal/platform/observability"
	"github.com/h7-ecom/api/internal/platform/secrets"
)

var (
	version = "dev"
	commit  = "none"
)

// runtimeDeps lets tests swap configuration loading and the store.
type runtimeDeps struct {
	configOptions []config.Option
	openBackend   func(ctx context.Context, cfg config.Config) (di.Backend, error)
}

type rootFlags struct {
	envFile  string
	logLevel string
}

// runtime is an opened configuration, store and service container for one command.
type runtime struct {
	cfg       config.Config
	backend   di.Backend
	container *di.Container
	logger    *zap.Logger
	fetcher   *secrets.Fetcher
}

func (r *runtime) Close(ctx context.Context) {
	if r.container != nil {
		_ = r.container.Close(ctx)
	} else if r.backend.Registry != nil {
		_ = r.backend.Registry.Close(ctx)
	}
	if r.fetcher != nil {
		_ = r.fetcher.Close()
	}
	_ = r.logger.Sync()
}

func newRootCmd(deps runtimeDeps) *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Operate the order API store",
		Long:          "ordersctl migrates and seeds the order store, moves orders through their lifecycle and edits notification settings.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file merged under the process environment")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(deps, flags))
	cmd.AddCommand(newSeedCmd(deps, flags))
	cmd.AddCommand(newTransitionCmd(deps, flags))
	cmd.AddCommand(newSettingsCmd(deps, flags))
	cmd.AddCommand(newIdempotencyCmd(deps, flags))
	return cmd
}

// Execute runs ordersctl against the real environment.
func Execute() error {
	return newRootCmd(runtimeDeps{openBackend: di.OpenBackend}).Execute()
}

// openRuntime loads configuration and opens the store. withServices also builds the container.
func openRuntime(ctx context.Context, deps runtimeDeps, flags *rootFlags, withServices bool) (*runtime, error) {
	logger, err := observability.NewLogger(flags.logLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	rt := &runtime{logger: logger.Named("ordersctl")}

	opts := []config.Option{config.WithEnvFile(flags.envFile)}
	opts = append(opts, deps.configOptions...)
	values, err := config.EnvironmentValues(opts...)
	if err != nil {
		return nil, err
	}
	rt.fetcher, err = secrets.NewFetcher(ctx,
		secrets.WithLogger(rt.logger.Named("secrets")),
		secrets.WithProject(firstNonEmpty(values["API_SECRETS_PROJECT_ID"], values["API_FIRESTORE_PROJECT_ID"])),
		secrets.WithFallbackFile(values["API_SECRETS_FALLBACK_FILE"]),
	)
	if err != nil {
		return nil, fmt.Errorf("init secrets: %w", err)
	}

	rt.cfg, err = config.Load(ctx, append(opts, config.WithSecretResolver(rt.fetcher))...)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("load config: %w", err)
	}

	open := deps.openBackend
	if open == nil {
		open = di.OpenBackend
	}
	rt.backend, err = open(ctx, rt.cfg)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	if !withServices {
		return rt, nil
	}

	rt.container, err = di.NewContainer(ctx, rt.cfg, rt.backend,
		di.WithLogger(rt.logger),
		di.WithSecretResolver(rt.fetcher),
	)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ordersctl %s (commit %s)\n", version, commit)
			return err
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
