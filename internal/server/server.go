package server

import (
	"context"
	"time"

	"github.com/thisyearnofear/runrealm-sub003/internal/auth"
	"github.com/thisyearnofear/runrealm-sub003/internal/chain"
	"github.com/thisyearnofear/runrealm-sub003/internal/config"
	"github.com/thisyearnofear/runrealm-sub003/internal/db"
	"github.com/thisyearnofear/runrealm-sub003/internal/history"
	"github.com/thisyearnofear/runrealm-sub003/internal/landmark"
	"github.com/thisyearnofear/runrealm-sub003/internal/run"
	"github.com/thisyearnofear/runrealm-sub003/internal/store"
	"github.com/thisyearnofear/runrealm-sub003/internal/stream"
	"github.com/thisyearnofear/runrealm-sub003/internal/territory"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Tracker  *run.Tracker
	Registry *territory.Registry
	History  *history.Service
}

// NewServer wires the whole pipeline: tracker sessions feed the registry
// through the run-completed hook, the registry talks to the claim backend,
// and both persist through the key-value store. A nil pool or redis client
// degrades to in-memory state so the server still boots.
func NewServer(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)

	var kv store.Store
	if redisClient != nil {
		kv = store.NewRedisStore(redisClient)
	} else {
		kv = store.NewMemoryStore()
	}

	// A nil *pgxpool.Pool boxed into db.Querier is a non-nil interface, so
	// Postgres-backed services only get a Querier when the pool exists.
	var querier db.Querier
	var authSvc *auth.Service
	var landmarks territory.LandmarkLookup
	var landmarkSvc *landmark.Service
	if pool != nil {
		querier = pool
		authSvc = auth.NewService(cfg.JWTSecret, pool)
		landmarkSvc = landmark.NewService(pool)
		landmarks = landmarkSvc
	}

	deriver := territory.NewDeriver(landmarks, nil)
	backend := chain.NewSimulator(cfg.HomeChainID)
	registry := territory.NewRegistry(territory.RegistryConfig{
		HomeChainID:         cfg.HomeChainID,
		ProximityThresholdM: cfg.ProximityThresholdM,
		IntentTTL:           time.Duration(cfg.IntentTTLHours) * time.Hour,
	}, deriver, backend, kv, hub)

	// No ambient location source in the HTTP wiring: /runs/start relies on a
	// client-supplied fix and answers 503 without one.
	tracker := run.NewTracker(run.Config{
		MinAccuracyM:      cfg.MinAccuracyM,
		MinPointGapMs:     cfg.MinPointGapMs,
		MinPointDistM:     cfg.MinPointDistM,
		SmoothingFactor:   cfg.SmoothingFactor,
		TerritoryMinDistM: cfg.TerritoryMinDistM,
		TerritoryMaxDevM:  cfg.TerritoryMaxDevM,
	}, nil, kv, hub)

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       pool,
		Redis:    redisClient,
		Stream:   hub,
		Tracker:  tracker,
		Registry: registry,
		History:  history.NewService(querier),
	}

	registerRoutes(s, authSvc, landmarkSvc)
	return s
}

func registerRoutes(s *Server, authSvc *auth.Service, landmarkSvc *landmark.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	if authSvc != nil {
		auth.RegisterRoutes(s.App.Group("/auth"), authSvc)
	}
	run.RegisterRoutes(s.App.Group("/runs"), s.Tracker, jwtMiddleware, s.onRunCompleted)
	territory.RegisterRoutes(s.App.Group("/territories"), s.Registry, jwtMiddleware, s.Tracker.LastCompleted)
	if landmarkSvc != nil {
		landmark.RegisterRoutes(s.App.Group("/landmarks"), landmarkSvc, jwtMiddleware)
	}
	history.RegisterRoutes(s.App.Group("/history"), s.History, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

// onRunCompleted archives every finished session and, when the run qualifies,
// tries to settle a matching territory intent. Fulfilment failures are
// reported on the runner's event channel by the registry itself.
func (s *Server) onRunCompleted(ctx context.Context, session run.Session, report run.Eligibility) {
	s.History.RecordRun(ctx, session)

	if !report.Eligible {
		return
	}
	claimed, matched, err := s.Registry.FulfillIntent(ctx, session.UserID, session)
	if err != nil || !matched {
		return
	}
	s.History.RecordTerritory(ctx, claimed)
}
