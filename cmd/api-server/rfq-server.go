package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rfqdesk/db"
	"rfqdesk/db/migrations"
	"rfqdesk/internal/award"
	"rfqdesk/internal/config"
	"rfqdesk/internal/filestore"
	"rfqdesk/internal/handlers"
	"rfqdesk/internal/lock"
	"rfqdesk/internal/notify"
	"rfqdesk/internal/quote"
	"rfqdesk/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := sqlx.Connect("postgres", cfg.PostgresConn)
	if err != nil {
		slog.Error("cannot connect to DB", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if cfg.MigrationsAuto {
		if err := migrations.Run(dbConn.DB); err != nil {
			slog.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	if cfg.TokenSecret == "" {
		slog.Warn("TOKEN_SECRET is not set, every link will be rejected")
	}
	verifier := token.NewVerifier(cfg.TokenSecret)

	checks := map[string]func(ctx context.Context) error{}
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		rl := lock.NewRedisLocker(rdb)
		if err := rl.Ping(ctx); err != nil {
			slog.Error("redis is unavailable", "error", err)
			os.Exit(1)
		}
		locker = rl
		checks["redis"] = rl.Ping
	} else {
		slog.Warn("REDIS_URL is not set, submission locks are local to this process")
	}

	var files filestore.Store = filestore.Disabled{}
	if cfg.Google.DriveCredentialsFile != "" {
		d, err := filestore.NewDrive(ctx, cfg.Google.DriveCredentialsFile, cfg.Google.DriveParentFolderID)
		if err != nil {
			slog.Error("google drive init failed, attachments disabled", "error", err)
		} else {
			files = d
		}
	}

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.Google.GmailCredentialsFile != "" {
		m, err := notify.NewGmailMailer(ctx, cfg.Google.GmailCredentialsFile, cfg.Google.GmailSender)
		if err != nil {
			slog.Error("gmail init failed, emails will only be logged", "error", err)
		} else {
			mailer = m
		}
	}

	var journal notify.Journal = notify.LogJournal{}
	if cfg.Dynamo.JournalTable != "" {
		ddb, err := notify.ConnectDynamoDB(ctx, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
		if err != nil {
			slog.Error("dynamodb init failed, journal is log-only", "error", err)
		} else {
			journal = notify.NewDynamoJournal(ddb, cfg.Dynamo.JournalTable)
		}
	}

	dispatcher := notify.NewDispatcher(mailer, journal, notify.Options{
		QueueSize:   cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		Timeout:     cfg.Notify.Timeout,
		MaxAttempts: cfg.Notify.MaxAttempts,
		Backoff:     cfg.Notify.Backoff,
	})
	dispatcher.Start()

	store := db.NewStorage(dbConn)
	quotes := quote.NewService(store, files, dispatcher, locker, verifier, quote.Options{
		ReplyPolicy: cfg.ReplyPolicy,
		LockTTL:     cfg.LockTTL,
	})
	awards := award.NewEngine(store, dispatcher, verifier, cfg.AwardPolicy)

	h := handlers.NewHandler(store, quotes, awards)
	h.MaxUploadBytes = cfg.MaxUploadBytes
	h.Checks = checks

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", cfg.ServerAddress, "reply_policy", cfg.ReplyPolicy, "award_policy", cfg.AwardPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Error("notification queue not drained", "error", err)
	}
}
