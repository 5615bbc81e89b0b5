// Command server is the production entrypoint: it wires the repositories,
// cache, job queue, email dispatcher, minutes pipeline, realtime hub, and
// HTTP router together and serves them behind a graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/meetgrid/backend/internal/v1/auth"
	"github.com/meetgrid/backend/internal/v1/bus"
	"github.com/meetgrid/backend/internal/v1/cache"
	"github.com/meetgrid/backend/internal/v1/config"
	"github.com/meetgrid/backend/internal/v1/email"
	"github.com/meetgrid/backend/internal/v1/health"
	"github.com/meetgrid/backend/internal/v1/httpapi"
	"github.com/meetgrid/backend/internal/v1/logging"
	"github.com/meetgrid/backend/internal/v1/meeting"
	"github.com/meetgrid/backend/internal/v1/minutes"
	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/queue"
	"github.com/meetgrid/backend/internal/v1/ratelimit"
	"github.com/meetgrid/backend/internal/v1/realtime"
	"github.com/meetgrid/backend/internal/v1/repository"
	"github.com/meetgrid/backend/internal/v1/scheduler"
	"github.com/meetgrid/backend/internal/v1/storage"
	"github.com/meetgrid/backend/internal/v1/tracing"

	"go.uber.org/zap"
)

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.OTelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, cfg.OTelServiceName, cfg.OTelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	} else {
		logging.Warn(ctx, "OTEL_COLLECTOR_ADDR not set; distributed tracing is disabled")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logging.Fatal(ctx, "failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(&models.Meeting{}, &models.User{}, &models.MeetingMinutes{}); err != nil {
		logging.Fatal(ctx, "failed to run migrations", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logging.Fatal(ctx, "failed to obtain sql.DB handle", zap.Error(err))
	}
	defer sqlDB.Close()

	meetingRepo := repository.NewPostgresMeetingRepository(db)
	userRepo := repository.NewPostgresUserRepository(db)
	minutesRepo := repository.NewPostgresMinutesRepository(db)

	var redisClient *redis.Client
	var redisBus *bus.Service
	var presence *cache.Store
	var jobQueue queue.Queue

	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

		redisBus, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis pub/sub", zap.Error(err))
		}
		defer redisBus.Close()

		presence, err = cache.NewStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis cache", zap.Error(err))
		}
		defer presence.Close()

		redisQueue, err := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis queue", zap.Error(err))
		}
		jobQueue = redisQueue
	} else {
		logging.Warn(ctx, "redis disabled; presence, pub/sub, and the job queue are running in-process only")
		jobQueue = queue.NewFallback()
	}
	defer jobQueue.Close()

	var validator httpapi.TokenValidator
	var jwtValidator *auth.Validator
	if cfg.SkipAuth || cfg.DevelopmentMode {
		logging.Warn(ctx, "SKIP_AUTH or DEVELOPMENT_MODE is set; using the mock token validator")
		validator = &auth.MockValidator{}
	} else {
		jwtValidator = auth.NewValidator(cfg.JWTSecret, "meetgrid", 7*24*time.Hour)
		validator = jwtValidator
	}
	if jwtValidator == nil {
		// The realtime hub and auth handlers both need a concrete issuer,
		// even in mock/dev mode, to mint the tokens register/login return.
		jwtValidator = auth.NewValidator(cfg.JWTSecret, "meetgrid", 7*24*time.Hour)
	}

	jobScheduler := scheduler.New(jobQueue)
	meetingService := meeting.New(meetingRepo, userRepo, jobScheduler)

	var llm minutes.LLMClient
	if cfg.GeminiAPIKey != "" {
		llm, err = minutes.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logging.Fatal(ctx, "failed to construct gemini client", zap.Error(err))
		}
	} else {
		logging.Warn(ctx, "GEMINI_API_KEY not set; meeting minutes generation will fail until it is configured")
	}
	minutesPipeline := minutes.New(meetingRepo, minutesRepo, userRepo, llm, jobQueue, cfg.GeminiModel)

	emailDispatcher := email.New(email.Config{
		Host: cfg.EmailHost, Port: atoiOrDefault(cfg.EmailPort, 587),
		User: cfg.EmailUser, Pass: cfg.EmailPass, From: cfg.EmailFrom,
	})

	fileStore, err := storage.NewFileStore("./data/uploads")
	if err != nil {
		logging.Fatal(ctx, "failed to initialize upload storage", zap.Error(err))
	}

	hub := realtime.NewHub(
		&realtime.AuthValidatorAdapter{Validator: jwtValidator},
		&realtime.RepositoryDeps{Meetings: meetingRepo, Presence: presence, Bus: redisBus},
		[]string{cfg.AllowedOrigins},
	)

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	healthHandler := health.NewHandler(redisBus, sqlDB, jobQueue)

	handlers := &httpapi.Handlers{
		Auth:      &httpapi.AuthHandlers{Users: userRepo, Validator: jwtValidator},
		Meetings:  &httpapi.MeetingHandlers{Service: meetingService, Config: cfg},
		Chat:      &httpapi.ChatHandlers{Meetings: meetingRepo, Users: userRepo, Hub: hub, Storage: fileStore},
		Recording: &httpapi.RecordingHandlers{Service: meetingService, Storage: fileStore},
		Minutes:   &httpapi.MinutesHandlers{Pipeline: minutesPipeline, MinutesRepo: minutesRepo, Meetings: meetingRepo, Email: emailDispatcher},
		Health:    healthHandler,
		Hub:       hub,
	}

	workers := queue.NewWorkerPool(jobQueue)
	registerWorkers(workers, jobQueue, cfg, meetingRepo, userRepo, minutesRepo, minutesPipeline, emailDispatcher)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	go workers.Run(workerCtx)
	defer stopWorkers()

	router := httpapi.NewRouter(handlers, httpapi.RequireAuth(validator), limiter, cfg.AllowedOrigins, fileStore.Root(), cfg.OTelServiceName)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		logging.Info(ctx, "server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	stopWorkers()
}

// registerWorkers wires every background job queue to its handler. Recording
// uploads are handled synchronously over HTTP (see httpapi.RecordingHandlers)
// rather than queued, so QueueRecording has no registered handler here.
func registerWorkers(workers *queue.WorkerPool, jobQueue queue.Queue, cfg *config.Config, meetingRepo repository.MeetingRepository, userRepo repository.UserRepository, minutesRepo repository.MinutesRepository, pipeline *minutes.Pipeline, dispatcher *email.Dispatcher) {
	// The reminder worker never talks to the email dispatcher itself: it
	// resolves the recipient and hands off to the email queue, so a transient
	// SMTP failure retries under the email queue's own backoff/attempts
	// instead of re-running the whole reminder job.
	workers.Register(models.QueueReminder, cfg.QueueWorkersReminder, func(ctx context.Context, job *models.Job) error {
		var payload models.ReminderJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		m, err := meetingRepo.FindByPublicID(ctx, payload.MeetingID)
		if err != nil {
			return err
		}
		if m.FindParticipant(payload.UserID) == nil {
			return nil
		}
		id, err := uuid.Parse(payload.UserID)
		if err != nil {
			return nil
		}
		user, err := userRepo.FindByID(ctx, id)
		if err != nil || user.Email == "" {
			return nil
		}

		_, err = jobQueue.Enqueue(ctx, models.QueueEmail, models.EmailJobPayload{
			Type:          models.EmailMeetingReminder,
			MeetingID:     m.MeetingID,
			Recipient:     user.Email,
			RecipientName: user.Profile.DisplayName,
			Title:         m.Title,
			TimeLabel:     payload.TimeLabel,
		}, time.Now(), queue.EnqueueOptions{})
		return err
	})

	workers.Register(models.QueueEmail, cfg.QueueWorkersEmail, func(ctx context.Context, job *models.Job) error {
		var payload models.EmailJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}

		switch payload.Type {
		case models.EmailMeetingReminder:
			result := dispatcher.SendReminder(ctx, payload.Recipient, email.ReminderData{
				Title: payload.Title, TimeLabel: payload.TimeLabel, RecipientName: payload.RecipientName, MeetingID: payload.MeetingID,
			})
			if result.Status != models.DeliverySent && !result.Permanent {
				return fmt.Errorf("send reminder to %s: %s", payload.Recipient, result.Error)
			}
			return nil

		case models.EmailMeetingMinutes:
			record, err := minutesRepo.FindByMeetingID(ctx, payload.MeetingID)
			if err != nil {
				return err
			}
			result := dispatcher.SendMinutes(ctx, payload.Recipient, email.MinutesData{
				Title: record.Title, Date: record.Date.Format("2006-01-02"), DurationMinutes: record.DurationMinutes,
				Summary: record.Summary, DiscussionPoints: record.DiscussionPoints, Decisions: record.Decisions,
				ActionItems: record.ActionItems, FollowUps: record.FollowUps,
			})
			if err := minutes.PersistEmailResult(ctx, minutesRepo, payload.MeetingID, result); err != nil {
				return err
			}
			if result.Status != models.DeliverySent && !result.Permanent {
				return fmt.Errorf("send minutes to %s: %s", payload.Recipient, result.Error)
			}
			return nil

		default:
			return nil
		}
	})

	workers.Register(models.QueueMoMGeneration, cfg.QueueWorkersMinutes, func(ctx context.Context, job *models.Job) error {
		var payload models.MoMGenerationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		_, err := pipeline.Generate(ctx, payload.MeetingID, "")
		return err
	})
}

func atoiOrDefault(s string, def int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}
