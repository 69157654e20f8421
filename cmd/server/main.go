// Command server runs the admission and attribution ledger. main wires
// dependencies and owns the process lifecycle; business logic lives in the
// internal service packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	admission "doorledger/internal/admission/service"
	admissionstore "doorledger/internal/admission/store/postgres"
	attribution "doorledger/internal/attribution/service"
	attributionstore "doorledger/internal/attribution/store/postgres"
	"doorledger/internal/audit"
	auditstore "doorledger/internal/audit/store/postgres"
	"doorledger/internal/clock"
	"doorledger/internal/identity"
	"doorledger/internal/outbox"
	"doorledger/internal/pass"
	"doorledger/internal/payout/lock"
	payout "doorledger/internal/payout/service"
	payoutstore "doorledger/internal/payout/store/postgres"
	"doorledger/internal/platform/config"
	"doorledger/internal/platform/httpserver"
	"doorledger/internal/platform/logger"
	"doorledger/internal/platform/metrics"
	"doorledger/internal/platform/postgres"
	redisplatform "doorledger/internal/platform/redis"
	httptransport "doorledger/internal/transport/http"
	"doorledger/migrations"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}

	// The payout lock must be shared across instances; without Redis we fall
	// back to a process-local lock, which is only safe single-node.
	var payoutLocker lock.Locker
	if redisClient != nil {
		payoutLocker = lock.NewRedisLocker(redisClient.Client, cfg.PayoutLockTTL)
		defer redisClient.Close()
	} else {
		log.Warn("redis not configured, payout lock is process-local")
		payoutLocker = lock.NewMemoryLocker()
	}

	m := metrics.New()
	clk := clock.NewSystem()
	recorder := audit.NewRecorder(auditstore.New(pool))
	codec := pass.NewCodec(cfg.PassSigningKey, cfg.PassTTL, clk)

	emitter := outbox.NewEmitter(cfg.OutboxBuffer, log, m)
	var publisher outbox.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
	} else {
		log.Warn("kafka not configured, domain events go to the log")
		publisher = outbox.NewLogPublisher(log)
	}
	worker := outbox.NewWorker(emitter.Events(), publisher, log, cfg.EmitTimeout)

	attributionService := attribution.New(
		attributionstore.New(pool), recorder, m, log, clk, cfg.ConversionLookback)
	admissionService := admission.New(
		admissionstore.New(pool), codec, attributionService, recorder, emitter, m, log, clk)
	payoutService := payout.New(
		payoutstore.New(pool), payoutLocker, recorder, m, log, clk)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Admission:    admissionService,
		Passes:       admissionService,
		Attribution:  attributionService,
		Payouts:      payoutService,
		JWTValidator: identity.NewValidator(cfg.JWTSigningKey),
		Metrics:      m,
		Logger:       log,
		Health: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting doorledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
