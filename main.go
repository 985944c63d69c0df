package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"trick-battle/config"
	"trick-battle/handlers"
	"trick-battle/middleware"
	"trick-battle/models"
	"trick-battle/pubsub"
	"trick-battle/services"
	"trick-battle/store"
	"trick-battle/utils"
	"trick-battle/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := store.Options{
		MaxAttempts:  cfg.TxMaxAttempts,
		PollInterval: cfg.WatchPollInterval,
	}
	if cfg.NATSURL != "" {
		nc, err := pubsub.Connect(cfg.NATSURL, "trick-battle")
		if err != nil {
			log.Fatalf("❌ failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		opts.Notifier = pubsub.NewNotifier(nc, cfg.NATSSubjectPrefix)
		log.Infof("✅ Change notifications over NATS (%s)", nc.ConnectedUrl())
	}

	docs, err := openStore(ctx, cfg, opts)
	if err != nil {
		log.Fatalf("❌ failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer docs.Close()

	var clips services.ClipVerifier
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2ClipStore(ctx, cfg.R2)
		if err != nil {
			log.Fatalf("❌ failed to initialize R2 client: %v", err)
		}
		clips = r2
	}

	matchmaking := services.NewMatchmakingService(docs, services.MatchmakingConfig{
		CandidateLimit: cfg.QueueCandidateLimit,
		StaleAfter:     cfg.QueueStaleAfter,
		LookupAttempts: cfg.MatchLookupAttempts,
		LookupDelay:    cfg.MatchLookupDelay,
	})
	games := services.NewGameService(docs, clips, cfg.RequireClip)

	var validator middleware.TokenValidator
	if cfg.AuthServiceURL != "" {
		validator = services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.GameServiceToken, utils.NewHTTPClient(10*time.Second))
	} else {
		log.Warn("⚠️  AUTH_SERVICE_URL not set, streams trust the gateway X-User-ID header")
	}

	app := fiber.New(fiber.Config{
		AppName:   "trick-battle",
		BodyLimit: 64 * 1024,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Device-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// 🔐 Only Gateway requests allowed, /health excepted for probes
	app.Use(middleware.GatewayAuthMiddleware(cfg.GameServiceToken, "/health"))

	h := handlers.New(matchmaking, games, cfg.SSEKeepAlive)
	h.Context = ctx
	handlers.SetupRoutes(app, h, validator)

	janitor := workers.NewQueueJanitor(matchmaking, cfg.QueueJanitorInterval)
	if err := janitor.Start(ctx); err != nil {
		log.Fatalf("❌ failed to start queue janitor: %v", err)
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("Server error: %v", err)
			stop()
		}
	}()

	log.Infof("✅ Server running on http://localhost:%s (store: %s)", cfg.Port, cfg.StoreDriver)
	log.Infof("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := janitor.Stop(); err != nil {
		log.Warnf("queue janitor shutdown: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warnf("server shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, opts store.Options) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := store.OpenPostgres(cfg.DatabaseURL, opts)
		if err != nil {
			return nil, err
		}
		return pg, nil

	case config.DriverDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		d := store.NewDynamo(client, cfg.DynamoTable, []string{models.QueueCollection}, opts)
		if err := d.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return d, nil

	default:
		return store.NewMemory(opts), nil
	}
}
