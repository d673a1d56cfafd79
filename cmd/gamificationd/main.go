package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/gamification/internal/daemon"
	"github.com/MarkoPoloResearchLab/gamification/internal/httpapi"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "GAMIFICATION"

	flagDatabaseURL          = "database-url"
	flagHTTPListenAddr       = "http-listen-addr"
	flagGRPCListenAddr       = "grpc-listen-addr"
	flagCatalogFile          = "catalog-file"
	flagLockTimeout          = "lock-timeout"
	flagRequestTimeout       = "request-timeout"
	flagAllowedOrigins       = "allowed-origins"
	flagRedisAddr            = "redis-addr"
	flagRedisChannel         = "redis-channel"
	flagLeaderboardRefresh   = "leaderboard-refresh"
	flagExpirationSweep      = "expiration-sweep"
	flagLedgerAudit          = "ledger-audit"
	flagPointsExpirationDays = "points-expiration-days"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gamificationd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &daemon.Config{}
	settings := viper.New()
	cmd := &cobra.Command{
		Use:           "gamificationd",
		Short:         "Gamification engine serving HTTP and gRPC",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, settings, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			return daemon.Run(ctx, *cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String(flagDatabaseURL, "", "SQLite path, sqlite:// URL or postgres:// URL")
	flags.String(flagHTTPListenAddr, "", "HTTP listen address")
	flags.String(flagGRPCListenAddr, "", "gRPC listen address")
	flags.String(flagCatalogFile, "", "YAML catalog of achievements, rewards and progression")
	flags.Duration(flagLockTimeout, 0, "how long a command waits for a busy user")
	flags.Duration(flagRequestTimeout, 0, "per-request timeout for HTTP handlers")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagRedisAddr, "", "Redis address for cross-instance events; empty disables")
	flags.String(flagRedisChannel, "", "Redis pub/sub channel")
	flags.Duration(flagLeaderboardRefresh, 0, "leaderboard rebuild interval")
	flags.Duration(flagExpirationSweep, 0, "point expiration sweep interval")
	flags.Duration(flagLedgerAudit, 0, "ledger consistency audit interval")
	flags.Int(flagPointsExpirationDays, 0, "days of inactivity before points expire; 0 disables")

	return cmd
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *daemon.Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindEnv(flagDatabaseURL, "DATABASE_URL", envPrefix+"_DATABASE_URL"); err != nil {
		return err
	}
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = settings.GetString(flagDatabaseURL)
	cfg.HTTPListenAddr = settings.GetString(flagHTTPListenAddr)
	cfg.GRPCListenAddr = settings.GetString(flagGRPCListenAddr)
	cfg.CatalogPath = settings.GetString(flagCatalogFile)
	cfg.LockTimeout = settings.GetDuration(flagLockTimeout)
	cfg.RequestTimeout = settings.GetDuration(flagRequestTimeout)
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins))
	cfg.RedisAddr = settings.GetString(flagRedisAddr)
	cfg.RedisChannel = settings.GetString(flagRedisChannel)
	cfg.LeaderboardRefresh = settings.GetDuration(flagLeaderboardRefresh)
	cfg.ExpirationSweep = settings.GetDuration(flagExpirationSweep)
	cfg.LedgerAudit = settings.GetDuration(flagLedgerAudit)
	cfg.PointsExpirationDays = settings.GetInt(flagPointsExpirationDays)
	return cfg.Validate()
}
