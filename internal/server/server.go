package server

import (
	"context"

	"backend-bikeride/internal/auth"
	"backend-bikeride/internal/config"
	"backend-bikeride/internal/logging"
	"backend-bikeride/internal/observability"
	"backend-bikeride/internal/ride"
	"backend-bikeride/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Rides   *ride.Service
	Metrics *observability.RideCollector

	log logging.Logger
}

// NewServer wires the ride service to its stream, metrics and broker. events
// may be nil, in which case lifecycle messages are not published.
func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, events ride.EventPublisher, log logging.Logger) (*Server, error) {
	log = logging.OrNoop(log)

	metrics, err := observability.NewRideCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient, log.With(logging.String("component", "stream")))

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      db,
		Redis:   redisClient,
		Stream:  hub,
		Rides:   ride.NewService(hub, metrics, events, log.With(logging.String("component", "ride"))),
		Metrics: metrics,
		log:     log,
	}

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "active_rides": s.Rides.ActiveRides()})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	if s.DB != nil {
		auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))
	} else {
		s.log.Warn(context.Background(), "postgres unavailable, rider accounts disabled")
		s.App.All("/auth/*", func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusServiceUnavailable, "rider accounts unavailable")
		})
	}
	ride.RegisterRoutes(s.App.Group("/rides"), s.Rides, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}

// Close releases what the server owns. The database pool and Redis client
// belong to the caller.
func (s *Server) Close() error {
	s.Rides.Close()
	return s.Stream.Close()
}
