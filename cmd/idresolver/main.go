// Command idresolver resolves, authenticates and lists users against the
// realms and resolvers of a configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/config"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/service"
)

var (
	configFile   string
	envFile      string
	outputFormat string
)

func main() {
	rootCmd := newRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "idresolver",
		Short:         "Identity resolution against configured realms",
		Long:          `idresolver maps logins to resolver bindings, checks passwords and lists users of the configured realms.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("IDRESOLVER_CONFIG")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfig, "Configuration file (env: IDRESOLVER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional .env file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")

	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(realmsCmd())
	rootCmd.AddCommand(fieldsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// withService loads the configuration, starts the service for the duration
// of fn and stops it afterwards.
func withService(ctx context.Context, fn func(*service.Service) error) error {
	var cfg service.Config
	opts := []config.LoaderOption{config.WithEnvPrefix("IDRESOLVER")}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	settings, err := config.Load("idresolver", &cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.ApplyDefaults()
	logger.Init(&cfg.Logging)
	logger.RegisterDefaults("cli", "resolver")
	log := logger.Get("cli")
	svc, err := service.New(&cfg, service.WithSettings(settings), service.WithLogger(logger.Get("resolver")))
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := svc.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Shutdown failed", logger.MergeWithError(nil, err))
		}
	}()
	return fn(svc)
}
