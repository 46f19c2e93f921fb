package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"dosegate/internal/audit"
	auditstore "dosegate/internal/audit/store"
	"dosegate/internal/biometric"
	bottleservice "dosegate/internal/bottle/service"
	bottlestore "dosegate/internal/bottle/store"
	"dosegate/internal/device"
	devicehandler "dosegate/internal/device/handler"
	devicestore "dosegate/internal/device/store"
	escalationhandler "dosegate/internal/escalation/handler"
	escalationservice "dosegate/internal/escalation/service"
	escalationstore "dosegate/internal/escalation/store"
	"dosegate/internal/jwttoken"
	"dosegate/internal/patient"
	patientstore "dosegate/internal/patient/store"
	"dosegate/internal/platform/config"
	"dosegate/internal/platform/httpserver"
	"dosegate/internal/platform/kafka"
	"dosegate/internal/platform/logger"
	"dosegate/internal/platform/metrics"
	"dosegate/internal/platform/redis"
	sessionhandler "dosegate/internal/session/handler"
	sessionservice "dosegate/internal/session/service"
	sessionstore "dosegate/internal/session/store"
	settingshandler "dosegate/internal/settings/handler"
	settingsservice "dosegate/internal/settings/service"
	settingsstore "dosegate/internal/settings/store"
	"dosegate/internal/transport"
	"dosegate/internal/transport/health"
	violationservice "dosegate/internal/violation/service"
	violationstore "dosegate/internal/violation/store"
)

const (
	jwtIssuer   = "dosegate"
	jwtAudience = "dosegate-api"

	sweepInterval = time.Minute
)

func main() {
	log := logger.New()
	cfg := config.FromEnv()
	m := metrics.New()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	cache, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, log)
	if err != nil {
		log.Error("connect kafka", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// Stores: relational when a DSN is configured, in-memory otherwise.
	var (
		settingsStore  settingsservice.Store
		attemptStore   sessionservice.AttemptStore
		bottleStore    bottleservice.Store
		profileStore   patient.ProfileStore
		deviceStore    device.Store
		violationStore violationservice.Store
		eventStore     escalationservice.EventStore
		grantStore     escalationservice.GrantStore
		auditStore     audit.Store
		auditOutbox    audit.OutboxSource
	)
	if db != nil {
		settingsStore = settingsstore.NewPostgres(db)
		attemptStore = sessionstore.NewPostgres(db)
		bottleStore = bottlestore.NewPostgres(db)
		profileStore = patientstore.NewPostgres(db)
		deviceStore = devicestore.NewPostgres(db)
		violationStore = violationstore.NewPostgres(db)
		eventStore = escalationstore.NewPostgresEvents(db)
		grantStore = escalationstore.NewPostgresGrants(db)
		pgAudit := auditstore.NewPostgres(db)
		auditStore = pgAudit
		auditOutbox = pgAudit
	} else {
		settingsStore = settingsstore.NewInMemory()
		attemptStore = sessionstore.NewInMemory()
		bottleStore = bottlestore.NewInMemory()
		profileStore = patientstore.NewInMemory()
		deviceStore = devicestore.NewInMemory()
		violationStore = violationstore.NewInMemory()
		eventStore = escalationstore.NewInMemoryEvents()
		grantStore = escalationstore.NewInMemoryGrants()
		auditStore = auditstore.NewInMemory()
	}

	var verifier biometric.Verifier
	if cfg.BiometricURL != "" {
		verifier = biometric.NewHTTPVerifier(cfg.BiometricURL)
	} else {
		log.Warn("no matching engine configured, biometric checks always pass")
		verifier = biometric.StaticVerifier{FixedScore: 100}
	}

	auditor := audit.NewPublisher(auditStore, audit.WithLogger(log), audit.WithMetrics(m))

	settingsOpts := []settingsservice.Option{
		settingsservice.WithLogger(log),
		settingsservice.WithMetrics(m),
	}
	if cache != nil {
		settingsOpts = append(settingsOpts, settingsservice.WithCache(cache.Client))
	}
	settingsSvc := settingsservice.New(settingsStore, settingsOpts...)

	violationSvc := violationservice.New(violationStore,
		violationservice.WithLogger(log), violationservice.WithMetrics(m))
	escalationEngine := escalationservice.New(eventStore, grantStore, producer,
		escalationservice.WithLogger(log),
		escalationservice.WithMetrics(m),
		escalationservice.WithTopic(cfg.Kafka.NotificationTopic),
	)
	registry := bottleservice.New(bottleStore)
	deviceSvc := device.NewService(deviceStore)
	machine := sessionservice.New(
		attemptStore, settingsSvc, profileStore, registry, verifier,
		violationSvc, escalationEngine, deviceSvc, auditor,
		sessionservice.WithLogger(log), sessionservice.WithMetrics(m),
	)

	tokens := jwttoken.NewService(cfg.JWTSigningKey, jwtIssuer, jwtAudience)

	healthDeps := map[string]health.Pinger{}
	if db != nil {
		healthDeps["postgres"] = health.PingerFunc(db.PingContext)
	}
	if cache != nil {
		healthDeps["redis"] = cache
	}

	router := transport.NewRouter(transport.Deps{
		Logger:      log,
		Validator:   tokens,
		Sessions:    sessionhandler.New(machine, settingsSvc, log),
		Settings:    settingshandler.New(settingsSvc, log),
		Escalations: escalationhandler.New(escalationEngine, violationSvc, settingsSvc, log),
		Devices:     devicehandler.New(deviceSvc, tokens, settingsSvc, log),
		Health:      health.New(healthDeps),
	})
	server := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := escalationEngine.RunSweeper(gctx, sweepInterval); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if auditOutbox != nil && producer != nil {
		relay := audit.NewRelay(auditOutbox, producer, cfg.Kafka.AuditTopic, log)
		g.Go(func() error {
			if err := relay.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
