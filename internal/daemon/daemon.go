// Package daemon wires the gamification engine into a long-running process
// serving HTTP and gRPC.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/internal/broker"
	"github.com/MarkoPoloResearchLab/gamification/internal/catalog"
	"github.com/MarkoPoloResearchLab/gamification/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/gamification/internal/httpapi"
	"github.com/MarkoPoloResearchLab/gamification/internal/oplog"
	"github.com/MarkoPoloResearchLab/gamification/internal/redisnotify"
	"github.com/MarkoPoloResearchLab/gamification/internal/scheduler"
	"github.com/MarkoPoloResearchLab/gamification/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/gamification/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/gorm"
)

// Run serves until ctx is cancelled or a server fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gormDB, cleanup, driver, err := OpenDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	engine, err := buildEngine(ctx, cfg, gormDB, logger)
	if err != nil {
		return err
	}
	defer engine.close()

	scanner, closeScanner, err := openLedgerScanner(ctx, cfg, driver, gormDB)
	if err != nil {
		return err
	}
	defer closeScanner()

	jobs, err := scheduler.New(engine.service, scheduler.Config{
		LeaderboardRefresh: cfg.LeaderboardRefresh,
		ExpirationSweep:    expirationSweepInterval(cfg),
		PointsExpireAfter:  cfg.PointsExpireAfter(),
		LedgerAudit:        cfg.LedgerAudit,
		Scanner:            scanner,
	}, logger)
	if err != nil {
		return err
	}
	jobs.Start()
	defer func() {
		if shutdownErr := jobs.Shutdown(); shutdownErr != nil {
			logger.Warn("scheduler shutdown", zap.Error(shutdownErr))
		}
	}()

	httpServer := &http.Server{
		Addr: cfg.HTTPListenAddr,
		Handler: httpapi.NewRouter(httpapi.Config{
			AllowedOrigins: cfg.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
		}, httpapi.Dependencies{
			Service: engine.service,
			Broker:  engine.broker,
			Events:  engine.auditLog,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.RegisterGamificationServiceServer(grpcServer, grpcserver.NewServer(engine.service))

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server starting", zap.String("listen_addr", cfg.HTTPListenAddr))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serveErr)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(grpcListener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", serveErr)
		}
		return nil
	})
	if engine.forwarder != nil {
		group.Go(func() error {
			return engine.forwarder.Run(groupContext)
		})
	}
	events, unsubscribe := engine.broker.Subscribe()
	group.Go(func() error {
		defer unsubscribe()
		broker.Consume(groupContext, events, broker.Idempotent(logEvent(logger), defaultEventDedupCapacity), logger)
		return nil
	})
	group.Go(func() error {
		<-groupContext.Done()
		logger.Info("shutdown requested")
		// Closing the broker ends open event streams so Shutdown can drain.
		engine.broker.Close()
		shutdownContext, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
			logger.Warn("http shutdown", zap.Error(shutdownErr))
		}
		grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

type engine struct {
	service     *gamification.Service
	broker      *broker.Broker
	auditLog    *gormstore.AuditLog
	forwarder   *redisnotify.Forwarder
	redisClient *goredis.Client
}

func (engine *engine) close() {
	engine.broker.Close()
	if engine.redisClient != nil {
		_ = engine.redisClient.Close()
	}
}

// buildEngine assembles the service, its publishers and the catalog.
func buildEngine(ctx context.Context, cfg Config, gormDB *gorm.DB, logger *zap.Logger) (*engine, error) {
	catalogFile, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	calculator, err := catalogFile.Calculator()
	if err != nil {
		return nil, fmt.Errorf("catalog progression: %w", err)
	}

	built := &engine{
		broker:   broker.New(cfg.SubscriberBuffer, logger),
		auditLog: gormstore.NewAuditLog(gormDB, time.Now),
	}
	publishers := gamification.Publishers{built.broker, built.auditLog}
	if cfg.RedisAddr != "" {
		origin := uuid.NewString()
		built.redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		redisPublisher, publisherErr := redisnotify.NewPublisher(built.redisClient, cfg.RedisChannel, origin)
		if publisherErr != nil {
			built.close()
			return nil, publisherErr
		}
		publishers = append(publishers, redisPublisher)
		built.forwarder, err = redisnotify.NewForwarder(built.redisClient, cfg.RedisChannel, origin, built.broker, logger)
		if err != nil {
			built.close()
			return nil, err
		}
		logger.Info("redis event relay enabled", zap.String("addr", cfg.RedisAddr), zap.String("origin", origin))
	}

	built.service, err = gamification.NewService(
		gormstore.New(gormDB),
		time.Now,
		gamification.WithOperationLogger(oplog.New(logger)),
		gamification.WithPublisher(publishers),
		gamification.WithCalculator(calculator),
		gamification.WithStreakBonusPolicy(catalogFile.StreakBonus),
		gamification.WithLockTimeout(cfg.LockTimeout),
	)
	if err != nil {
		built.close()
		return nil, fmt.Errorf("gamification service init: %w", err)
	}
	if err := catalogFile.Apply(ctx, built.service); err != nil {
		built.close()
		return nil, err
	}
	if err := built.service.RefreshLeaderboard(ctx); err != nil {
		built.close()
		return nil, fmt.Errorf("leaderboard warmup: %w", err)
	}
	logger.Info("catalog applied",
		zap.Int("achievements", len(catalogFile.Achievements)),
		zap.Int("rewards", len(catalogFile.Rewards)),
	)
	return built, nil
}

// openLedgerScanner gives PostgreSQL audits their own pgx pool; SQLite shares
// the gorm connection.
func openLedgerScanner(ctx context.Context, cfg Config, driver string, gormDB *gorm.DB) (scheduler.LedgerScanner, func(), error) {
	if cfg.LedgerAudit <= 0 {
		return nil, func() {}, nil
	}
	if driver != driverPostgres {
		return gormstore.New(gormDB), func() {}, nil
	}
	auditor, err := pgstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger auditor: %w", err)
	}
	return auditor, auditor.Close, nil
}

func expirationSweepInterval(cfg Config) time.Duration {
	if cfg.PointsExpirationDays == 0 {
		return 0
	}
	return cfg.ExpirationSweep
}

func logEvent(logger *zap.Logger) broker.Handler {
	return func(_ context.Context, event gamification.Event) error {
		logger.Debug("gamification event",
			zap.String("kind", string(event.Kind)),
			zap.String("key", event.Key),
			zap.String("user_id", event.UserID),
		)
		return nil
	}
}
