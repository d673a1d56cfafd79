// Package httpapi exposes the gamification service as JSON over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gamification/internal/broker"
	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultAllowedOrigin  = "http://localhost:8000"
)

// EventLister reads the persisted event log.
type EventLister interface {
	ListEvents(ctx context.Context, userID string, limit int) ([]gamification.Event, error)
}

// Config holds the HTTP facade settings.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
}

// Dependencies are the collaborators behind the routes. Broker and Events may
// be nil, which disables the routes that need them.
type Dependencies struct {
	Service *gamification.Service
	Broker  *broker.Broker
	Events  EventLister
	Logger  *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, dependencies Dependencies) *gin.Engine {
	cfg.applyDefaults()
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		service: dependencies.Service,
		broker:  dependencies.Broker,
		events:  dependencies.Events,
		logger:  logger,
		timeout: cfg.RequestTimeout,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	users := api.Group("/users/:userID")
	users.GET("/profile", handler.handleProfile)
	users.GET("/ledger", handler.handleLedgerHistory)
	users.GET("/ledger/verify", handler.handleVerifyLedger)
	users.GET("/rank", handler.handleRank)
	users.GET("/achievements", handler.handleAchievementProgress)
	users.GET("/activity", handler.handleActivityCalendar)
	users.GET("/redemptions", handler.handleListRedemptions)
	users.GET("/events", handler.handleUserEvents)
	users.POST("/points", handler.handleAwardPoints)
	users.POST("/adjustments", handler.handleCommit)
	users.POST("/expirations", handler.handleExpirePoints)
	users.POST("/progress", handler.handleRecordProgress)
	users.POST("/activity", handler.handleRecordActivity)
	users.POST("/redemptions", handler.handleRedeem)

	api.GET("/redemptions/:redemptionID", handler.handleGetRedemption)
	api.POST("/redemptions/:redemptionID/fulfill", handler.handleTransition(transitionFulfill))
	api.POST("/redemptions/:redemptionID/cancel", handler.handleTransition(transitionCancel))
	api.POST("/redemptions/:redemptionID/expire", handler.handleTransition(transitionExpire))

	api.GET("/leaderboard", handler.handleLeaderboard)
	api.GET("/rewards", handler.handleListRewards)
	api.PUT("/rewards/:rewardID", handler.handleUpsertReward)
	api.GET("/achievements", handler.handleListAchievements)
	api.PUT("/achievements/:achievementID", handler.handleUpsertAchievement)
	api.GET("/events", handler.handleEventStream)

	return router
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
