package daemon

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultDatabaseURL        = "sqlite:///tmp/gamification.db"
	defaultHTTPListenAddr     = ":8080"
	defaultGRPCListenAddr     = ":7000"
	defaultLockTimeout        = 2 * time.Second
	defaultRequestTimeout     = 5 * time.Second
	defaultShutdownTimeout    = 5 * time.Second
	defaultLeaderboardRefresh = 5 * time.Minute
	defaultExpirationSweep    = 24 * time.Hour
	defaultLedgerAudit        = time.Hour
	defaultSubscriberBuffer   = 64
	defaultEventDedupCapacity = 4096
	defaultAllowedOrigin      = "http://localhost:8000"
)

// Config aggregates runtime settings for the gamification daemon.
type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	GRPCListenAddr string
	// CatalogPath is a YAML catalog; empty means the built-in one.
	CatalogPath    string
	AllowedOrigins []string
	LockTimeout    time.Duration
	RequestTimeout time.Duration
	// RedisAddr enables cross-instance event relay when set.
	RedisAddr          string
	RedisChannel       string
	LeaderboardRefresh time.Duration
	ExpirationSweep    time.Duration
	LedgerAudit        time.Duration
	// PointsExpirationDays is the inactivity window after which balances
	// expire. Zero disables expiration.
	PointsExpirationDays int
	ShutdownTimeout      time.Duration
	SubscriberBuffer     int
}

// Validate fills defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.LeaderboardRefresh == 0 {
		cfg.LeaderboardRefresh = defaultLeaderboardRefresh
	}
	if cfg.ExpirationSweep == 0 {
		cfg.ExpirationSweep = defaultExpirationSweep
	}
	if cfg.LedgerAudit == 0 {
		cfg.LedgerAudit = defaultLedgerAudit
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.LeaderboardRefresh < 0 {
		return fmt.Errorf("leaderboard refresh must not be negative")
	}
	if cfg.ExpirationSweep < 0 {
		return fmt.Errorf("expiration sweep must not be negative")
	}
	if cfg.LedgerAudit < 0 {
		return fmt.Errorf("ledger audit must not be negative")
	}
	if cfg.PointsExpirationDays < 0 {
		return fmt.Errorf("points expiration days must not be negative")
	}
	return nil
}

// PointsExpireAfter converts PointsExpirationDays to a duration.
func (cfg Config) PointsExpireAfter() time.Duration {
	return time.Duration(cfg.PointsExpirationDays) * 24 * time.Hour
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
