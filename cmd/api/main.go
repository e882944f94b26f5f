package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/essay"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	cloud "github.com/noah-isme/gema-grading-api/pkg/cloudinary"
	dockerexec "github.com/noah-isme/gema-grading-api/pkg/docker"
	"github.com/noah-isme/gema-grading-api/pkg/ocr"
)

type events interface {
	service.EventPublisher
	service.EventSubscriber
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	profile, err := config.LoadScoringProfile(cfg.RubricProfile)
	if err != nil {
		log.Fatalf("failed to load scoring profile: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, metrics cache disabled")
		} else {
			defer redisClient.Close()
			probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}

	var bus events = service.NewLocalEvents()
	if cfg.NATSURL != "" {
		conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, events stay local")
		} else {
			defer conn.Drain()
			bus = service.NewNATSEvents(conn, cfg.EventsPrefix, logger)
			probes["nats"] = func(context.Context) error {
				if conn.Status() != nats.CONNECTED {
					return nats.ErrConnectionClosed
				}
				return nil
			}
		}
	}

	var archive service.ScanArchive
	if cfg.CloudinaryEnabled() {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("cloudinary unavailable, scans are not archived")
		} else {
			archive = uploader
		}
	}

	var recognizer ocr.Recognizer
	executor, err := dockerexec.NewDockerExecutor(dockerexec.Config{
		Host:    cfg.DockerHost,
		Timeout: cfg.OCRTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("docker unavailable, essay scans disabled")
	} else {
		defer executor.Close()
		recognizer = ocr.NewTesseract(executor, ocr.TesseractConfig{
			Image:      cfg.OCRImage,
			Languages:  cfg.OCRLanguages,
			Timeout:    cfg.OCRTimeout,
			WorkingDir: executor.WorkingDir(),
		}, logger)
	}

	var labeler ai.Labeler
	if cfg.OpenAIAPIKey != "" {
		openAI, err := ai.NewOpenAILabeler(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.AIModel,
			Logger: logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("openai labeler unavailable")
		} else {
			labeler = openAI
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	scorer := essay.NewScorer(profile.Rubric)

	essayRepo := repository.NewEssayRepository(db)
	examRepo := repository.NewExamRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)

	essayService := service.NewEssayService(essayRepo, scorer, recognizer, archive, bus, validate, logger, service.EssayServiceConfig{
		MaxScanMB: cfg.UploadMaxMB,
	})
	examService := service.NewExamService(examRepo, profile.Policy, bus, validate, logger)
	evaluationService := service.NewEvaluationService(evaluationRepo, scorer, labeler, redisClient, bus, bus, validate, logger, service.EvaluationServiceConfig{
		MetricsCacheTTL: cfg.MetricsCacheTTL,
	})

	if err := evaluationService.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("evaluation event consumer not started")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:    &logger,
		AccessLog: cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		EssayHandler:      handler.NewEssayHandler(essayService, validate, logger),
		ExamHandler:       handler.NewExamHandler(examService, validate, logger),
		EvaluationHandler: handler.NewEvaluationHandler(evaluationService, validate, logger),
		HealthProbes:      probes,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		MetricsHandler:    observability.MetricsHandler(),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Msg("grading api started")
	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
