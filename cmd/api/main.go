package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-bikeride/internal/broker"
	"backend-bikeride/internal/config"
	"backend-bikeride/internal/db"
	"backend-bikeride/internal/logging"
	"backend-bikeride/internal/ride"
	"backend-bikeride/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

// eventBroker is the lifecycle publisher plus the ability to release it.
type eventBroker interface {
	ride.EventPublisher
	Close() error
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(config.Config) logging.Logger
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	ensureSchema    func(context.Context, db.Querier) error
	connectRedis    func(config.Config) *redis.Client
	connectBroker   func(config.Config, logging.Logger) (eventBroker, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, Resources, <-chan os.Signal, ListenFunc) error
}

// Resources are the connections Run hands to the server and closes on exit.
// Any of them may be nil.
type Resources struct {
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	Events   eventBroker
	Log      logging.Logger
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       newLogger,
		connectPostgres: db.ConnectPostgres,
		ensureSchema:    db.EnsureSchema,
		connectRedis:    db.ConnectRedis,
		connectBroker:   connectBroker,
		notify:          signal.Notify,
		run:             Run,
	}
}

func newLogger(cfg config.Config) logging.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stdout})
}

func connectBroker(cfg config.Config, log logging.Logger) (eventBroker, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	p, err := broker.Connect(cfg.AMQPURL, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func realMain(deps mainDeps) {
	ctx := context.Background()
	cfg := deps.loadConfig()
	log := deps.newLogger(cfg)

	res := Resources{Log: log}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Warn(ctx, "postgres connection failed", logging.Err(err))
	} else {
		if err := deps.ensureSchema(ctx, pg); err != nil {
			log.Error(ctx, "schema setup failed", logging.Err(err))
		}
		res.Postgres = pg
	}

	res.Redis = deps.connectRedis(cfg)

	events, err := deps.connectBroker(cfg, log.With(logging.String("component", "broker")))
	if err != nil {
		log.Warn(ctx, "broker connection failed, ride lifecycle events disabled", logging.Err(err))
	} else {
		res.Events = events
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, res, signals, nil); err != nil {
		log.Error(ctx, "server exited with error", logging.Err(err))
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, res Resources, signals <-chan os.Signal, listen ListenFunc) error {
	log := logging.OrNoop(res.Log)

	srv, err := server.NewServer(cfg, res.Postgres, res.Redis, res.Events, log)
	if err != nil {
		return err
	}
	defer res.close(ctx, srv, log)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()
	log.Info(ctx, "server starting", logging.String("addr", cfg.ServerPort))

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	log.Info(ctx, "server stopped")
	return nil
}

func (r Resources) close(ctx context.Context, srv *server.Server, log logging.Logger) {
	if err := srv.Close(); err != nil {
		log.Warn(ctx, "stream hub close", logging.Err(err))
	}
	if r.Events != nil {
		if err := r.Events.Close(); err != nil {
			log.Warn(ctx, "broker close", logging.Err(err))
		}
	}
	if r.Postgres != nil {
		r.Postgres.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}
