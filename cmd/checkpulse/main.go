package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/checkpulse/internal/config"
)

var version = "dev"

// Flag names. Each is bound to the config key it overrides.
const (
	FlagConfig     = "config"
	FlagLogLevel   = "log-level"
	FlagListenAddr = "listen-addr"
	FlagDBPath     = "db-path"
)

var flagKeys = map[string]string{
	FlagConfig:     "config",
	FlagLogLevel:   "log_level",
	FlagListenAddr: "listen_addr",
	FlagDBPath:     "db_path",
}

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "checkpulse",
		Short: "Follow CI check status for git refs",
		Long: `checkpulse polls the GitHub Checks API for a ref until its CI settles,
backing off as a suite runs longer, and serves the aggregate status over
HTTP and server-sent events.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (YAML)")
	rootCmd.PersistentFlags().String(FlagLogLevel, "", "Log level: debug, info, warn, error")
	bindFlags(v, rootCmd.PersistentFlags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "checkpulse %s\n", version)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConfig(v, func(cfg *config.Config, logger *slog.Logger) error {
				return serve(cmd.Context(), v, cfg, logger)
			})
		},
	}
	serveCmd.Flags().String(FlagListenAddr, "", "HTTP listen address")
	serveCmd.Flags().String(FlagDBPath, "", "SQLite database path")
	bindFlags(v, serveCmd.Flags())

	watchCmd := &cobra.Command{
		Use:   "watch <owner/repo> <ref>",
		Short: "Poll one ref in the foreground until its checks settle",
		Long: `watch prints each status change for a ref and exits 0 once polling stops
on its own: the checks settled, or the ref has no CI configured. It exits
non-zero if interrupted first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(v, func(cfg *config.Config, logger *slog.Logger) error {
				return watch(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args[0], args[1])
			})
		},
	}

	rootCmd.AddCommand(versionCmd, serveCmd, watchCmd)
	return rootCmd
}

// bindFlags binds each flag to its config key. Unset flags do not override
// file or env values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		_ = v.BindPFlag(key, f)
	})
}

// withConfig loads configuration, sets up logging and runs fn.
func withConfig(v *viper.Viper, fn func(*config.Config, *slog.Logger) error) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logs, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logs.Close() }()
	slog.SetDefault(logs.Logger)

	return fn(cfg, logs.Logger)
}
