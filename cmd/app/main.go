package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	membership "github.com/bohemiyan/orgmembership"
	"github.com/bohemiyan/orgmembership/internal/config"
	"github.com/bohemiyan/orgmembership/internal/db"
	"github.com/bohemiyan/orgmembership/internal/routes"
	"github.com/bohemiyan/orgmembership/mongostore"
	"github.com/bohemiyan/orgmembership/notify"
	"github.com/bohemiyan/orgmembership/zapLogger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize zapLogger
	logFile := zapLogger.Init(zapLogger.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	defer zapLogger.Log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize %s store: %v", cfg.Backend, err)
	}
	defer closeStore()
	zapLogger.Log.Infof("Using %s store", cfg.Backend)

	var redisDB *redis.Client
	if cfg.RedisEnabled {
		redisDB, err = db.NewRedisClient(ctx, cfg)
		if err != nil {
			zapLogger.Log.Fatalf("Failed to initialize Redis: %v", err)
		}
		zapLogger.Log.Info("Successfully connected to Redis")
		defer redisDB.Close()
	}

	var dispatcher membership.Dispatcher = notify.NewLogDispatcher(zapLogger.Named("notify"))
	if cfg.Dispatcher == config.DispatcherAMQP {
		amqpDispatcher, err := notify.NewAMQPDispatcher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPRoutingKey)
		if err != nil {
			zapLogger.Log.Fatalf("Failed to initialize RabbitMQ: %v", err)
		}
		zapLogger.Log.Info("Successfully connected to RabbitMQ")
		defer amqpDispatcher.Close()
		dispatcher = amqpDispatcher
	}

	engine, err := membership.New(membership.Config{
		Store:              store,
		RedisClient:        redisDB,
		Dispatcher:         dispatcher,
		Logger:             zapLogger.Named("membership"),
		Credentials:        membership.CredentialPolicy{Length: cfg.CredentialLength, BcryptCost: cfg.BcryptCost},
		CacheTTL:           cfg.CacheTTL,
		CachePrefix:        cfg.CachePrefix,
		NotifyConcurrency:  cfg.NotifyConcurrency,
		EnableAuditLogging: cfg.AuditLogging,
	})
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize membership engine: %v", err)
	}

	// Set up Fiber app
	app := fiber.New()

	// Middleware
	app.Use(zapLogger.FiberLoggingMiddleware(logFile))

	// Set up routes
	routes.Setup(app, engine, zapLogger.Named("http"))

	// Start server
	addr := fmt.Sprintf(":%d", cfg.AppPort)
	zapLogger.Log.Infof("Server started on port %d", cfg.AppPort)
	log.Fatal(app.Listen(addr))
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg *config.Config) (membership.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pgDB, err := db.NewPostgresDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		store := membership.NewGormStore(pgDB.GormDB)
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				pgDB.Close()
				return nil, nil, err
			}
		}
		return store, closer(pgDB), nil

	case config.BackendMongo:
		mdb, err := db.NewMongoDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := mongostore.New(mdb.Database)
		if err := store.EnsureIndexes(ctx); err != nil {
			mdb.Close(ctx)
			return nil, nil, err
		}
		return store, func() {
			if err := mdb.Close(context.Background()); err != nil {
				zapLogger.Log.Warnf("Failed to disconnect MongoDB: %v", err)
			}
		}, nil
	}
	return membership.NewMemoryStore(), func() {}, nil
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			zapLogger.Log.Warnf("Failed to close store: %v", err)
		}
	}
}
