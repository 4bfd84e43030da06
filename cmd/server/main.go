package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/eventbus"
	"github.com/maheshrc27/postflow/internal/feed"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const (
	networkProbeTimeout = 3 * time.Second
	shutdownTimeout     = 10 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	logCloser := utils.SetupLogger(cfg.Log)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := repository.OpenDB(ctx, cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer closeDB(db)

	bus := eventbus.New()
	postRepo := repository.NewPostRepository(db, dialect, bus)
	historyRepo := repository.NewPostingHistoryRepository(db, dialect)
	postFeed := feed.New(postRepo, bus)

	var uploadTargets service.UploadTargetIssuer
	if cfg.R2.Enabled() {
		r2Service, err := service.NewR2Service(ctx, *cfg)
		if err != nil {
			log.Fatalf("Failed to configure R2: %v", err)
		}
		uploadTargets = r2Service
		slog.Info("Presigning uploads against R2", "bucket", cfg.R2.BucketName)
	}
	publishClient := service.NewPublishClient(*cfg, uploadTargets)

	worker := queue.NewWorker(postRepo, publishClient, historyRepo)
	networkCheck := queue.NetworkProbe(cfg.NetworkProbeAddr, networkProbeTimeout)

	g, gctx := errgroup.WithContext(ctx)

	var jobs queue.JobQueue
	if cfg.RedisURI != "" {
		redisConn, err := redisConnOpt(cfg.RedisURI)
		if err != nil {
			log.Fatalf("Invalid REDIS_URI: %v", err)
		}
		asynqJobs := queue.NewAsynqJobQueue(redisConn)
		defer asynqJobs.Close()
		jobs = asynqJobs

		server := queue.NewServer(redisConn, cfg.QueueConcurrency)
		g.Go(func() error {
			slog.Info("Starting the Asynq server...")
			if err := server.Start(queue.NewServeMux(worker, networkCheck)); err != nil {
				return fmt.Errorf("could not start Asynq server: %w", err)
			}
			<-gctx.Done()
			server.Shutdown()
			return nil
		})
	} else {
		localJobs := queue.NewLocalJobQueue(queue.RequirePrecondition(networkCheck)(worker), cfg.QueueConcurrency)
		defer localJobs.Close()
		jobs = localJobs
		slog.Info("REDIS_URI not set, running publish jobs in-process")
	}

	postService := service.NewPostService(postRepo, queue.NewScheduler(jobs))

	g.Go(func() error { return postFeed.Run(gctx) })
	if dialect == repository.DialectPostgres {
		listener := repository.NewPostListener(cfg.PostgresURI, bus)
		g.Go(func() error { return listener.Run(gctx) })
	}

	// cron jobs
	reconcileJob := job.NewReconcileJob(postService)
	c, err := reconcileJob.Schedule(cfg.ReconcileEvery)
	if err != nil {
		log.Fatalf("Invalid RECONCILE_EVERY: %v", err)
	}
	defer c.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	health := handlers.NewHealthHandler(db)
	app.Get("/healthz", health.Healthz)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService, postFeed, historyRepo)
	post.Register(api)

	g.Go(func() error {
		slog.Info("Server is running", "addr", cfg.HTTPAddr)
		return app.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server stopped", "error", err)
	}
	slog.Info("Server shutdown complete.")
}

// redisConnOpt accepts either a redis:// URI or a bare host:port.
func redisConnOpt(uri string) (asynq.RedisConnOpt, error) {
	if strings.Contains(uri, "://") {
		return asynq.ParseRedisURI(uri)
	}
	return asynq.RedisClientOpt{Addr: uri}, nil
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}
