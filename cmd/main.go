/**
 * @description
 * This is the main entry point for the savings-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/jobs, internal/store: Internal packages.
 * - pkg/rabbitmq, pkg/supportclient: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shako/savings-service/internal/api"
	"github.com/shako/savings-service/internal/app"
	"github.com/shako/savings-service/internal/config"
	"github.com/shako/savings-service/internal/jobs"
	"github.com/shako/savings-service/internal/store"
	rmrabbit "github.com/shako/savings-service/pkg/rabbitmq"
	"github.com/shako/savings-service/pkg/supportclient"
)

func main() {
	// Load an optional .env file before viper reads the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting savings-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer. Notification fan-out is fire-and-forget, so a
	// broker outage at boot degrades to the no-op fallback instead of failing startup.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the support desk client for dispute escalation.
	var support app.SupportEscalator
	if strings.TrimSpace(cfg.SupportAPIBaseURL) == "" || strings.TrimSpace(cfg.SupportAPIKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"support client not configured; dispute escalation disabled\" support_url_set=%t support_key_set=%t",
			strings.TrimSpace(cfg.SupportAPIBaseURL) != "",
			strings.TrimSpace(cfg.SupportAPIKey) != "",
		)
	} else {
		support = supportclient.NewClient(cfg.SupportAPIBaseURL, cfg.SupportAPIKey)
	}

	var redisClient *redis.Client
	rateLimitingEnabled := cfg.DecisionRateLimitPerMinute > 0 || cfg.WithdrawalCreateLimitPerMinute > 0
	if rateLimitingEnabled {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	savingsService := app.NewService(repository, producer, support)
	if redisClient != nil {
		savingsService.SetRateLimiter(
			app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.DecisionRateLimitPerMinute,
			cfg.WithdrawalCreateLimitPerMinute,
		)
	}

	// Initialize the API handlers and router.
	savingsHandlers := api.NewSavingsHandlers(savingsService)
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/savings", api.SavingsRoutes(savingsHandlers, cfg.JWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the support resolution consumer: support tooling publishes ticket.resolved
	// events that close open disputes.
	supportConsumer := app.NewSupportResolutionConsumer(savingsService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; support resolutions require internal endpoint\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		supportBindings := map[string]func([]byte) bool{
			"support.ticket.resolved": supportConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.SavingsEventsExchange, cfg.SupportEventQueue, supportBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"support consumer start failed\" err=%v", err)
		}
	}

	// Start the reminder scheduler for stale pending requests.
	schedulerLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	scheduler := jobs.NewScheduler(
		savingsService,
		schedulerLogger,
		cfg.ReminderCronSchedule,
		time.Duration(cfg.ReminderPendingAgeHours)*time.Hour,
	)
	scheduler.Start()

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
