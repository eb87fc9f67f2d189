package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"medvault/internal/access"
	"medvault/internal/audit"
	"medvault/internal/audit/publisher"
	"medvault/internal/domain"
	"medvault/internal/jwttoken"
	"medvault/internal/platform/config"
	"medvault/internal/platform/httpserver"
	"medvault/internal/platform/logger"
	platformmetrics "medvault/internal/platform/metrics"
	"medvault/internal/platform/postgres"
	platformredis "medvault/internal/platform/redis"
	"medvault/internal/proof"
	"medvault/internal/records"
	"medvault/internal/registry"
	"medvault/internal/registry/handler"
	registrymetrics "medvault/internal/registry/metrics"
	"medvault/internal/roles"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		roleStore   roles.Store
		recordStore records.Store
		grantStore  access.Store
		auditStore  audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
		roleStore = roles.NewPostgresStore(db)
		recordStore = records.NewPostgresStore(db)
		grantStore = access.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
		log.Info("using postgres storage")
	} else {
		roleStore = roles.NewInMemoryStore()
		recordStore = records.NewInMemoryStore()
		grantStore = access.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		log.Info("using in-memory storage")
	}

	var idem registry.IdempotencyStore
	redisClient, err := platformredis.New(cfg.RedisAddr)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		idem = registry.NewRedisIdempotencyStore(redisClient.Client, cfg.IdempotencyTTL)
		log.Info("using redis idempotency store", "addr", cfg.RedisAddr)
	} else {
		idem = registry.NewInMemoryIdempotencyStore(cfg.IdempotencyTTL)
	}

	group, ctx := errgroup.WithContext(ctx)

	logOpts := []audit.LogOption{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := publisher.NewKafka(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		if err := kafka.EnsureTopic(ctx); err != nil {
			return err
		}

		stream := make(chan audit.Entry, 256)
		logOpts = append(logOpts, audit.WithStream(stream))
		worker := audit.NewWorker(kafka, stream, log)
		group.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		log.Info("audit streaming enabled", "topic", cfg.AuditTopic, "brokers", cfg.KafkaBrokers)
	}
	auditLog := audit.NewLog(auditStore, logOpts...)

	roleSvc := roles.NewService(roleStore)
	seeds := make([]domain.Identity, 0, len(cfg.SeedAdmins))
	for _, s := range cfg.SeedAdmins {
		seeds = append(seeds, domain.Identity(s))
	}
	if err := roleSvc.Seed(ctx, seeds); err != nil {
		return err
	}

	var verifierOpts []proof.Option
	if len(cfg.TrustedProofKeys) > 0 {
		keys := make([]ed25519.PublicKey, 0, len(cfg.TrustedProofKeys))
		for _, encoded := range cfg.TrustedProofKeys {
			key, err := base64.RawURLEncoding.DecodeString(encoded)
			if err != nil || len(key) != ed25519.PublicKeySize {
				return errors.New("invalid trusted proof key: " + encoded)
			}
			keys = append(keys, ed25519.PublicKey(key))
		}
		verifierOpts = append(verifierOpts, proof.WithTrustedKeys(keys...))
	}

	svc := registry.NewService(
		roleSvc,
		recordStore,
		access.NewLedger(grantStore, roleSvc),
		proof.NewGate(proof.NewEd25519Verifier(verifierOpts...), cfg.ProofTimeout),
		auditLog,
		idem,
		log,
		registrymetrics.New(),
	)

	jwtValidator := jwttoken.NewAdapter(jwttoken.NewJWTService(cfg.JWTSigningKey, "medvault", "medvault-api"))

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler.New(svc, log, platformmetrics.New(), jwtValidator).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		log.Info("starting medvault registry", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
