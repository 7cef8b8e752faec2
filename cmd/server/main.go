// Command server wires the issuance pipeline and serves the HTTP API.
// Business logic lives in the internal service packages; main only selects
// implementations from configuration and manages the process lifecycle.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"cachet/internal/application"
	applicationhandler "cachet/internal/application/handler"
	applicationmetrics "cachet/internal/application/metrics"
	appmemory "cachet/internal/application/store/memory"
	apppostgres "cachet/internal/application/store/postgres"
	"cachet/internal/audit"
	audithandler "cachet/internal/audit/handler"
	auditmetrics "cachet/internal/audit/metrics"
	"cachet/internal/audit/relay"
	auditmemory "cachet/internal/audit/store/memory"
	auditpostgres "cachet/internal/audit/store/postgres"
	"cachet/internal/issuance"
	issuancehandler "cachet/internal/issuance/handler"
	issuancemetrics "cachet/internal/issuance/metrics"
	"cachet/internal/issuance/publisher"
	issuancememory "cachet/internal/issuance/store/memory"
	issuancepostgres "cachet/internal/issuance/store/postgres"
	"cachet/internal/platform/config"
	"cachet/internal/platform/httpserver"
	"cachet/internal/platform/kafka"
	"cachet/internal/platform/logger"
	platformmetrics "cachet/internal/platform/metrics"
	platformredis "cachet/internal/platform/redis"
	"cachet/internal/signing"
	httptransport "cachet/internal/transport/http"
	"cachet/internal/validation"
	"cachet/internal/validation/adapters"
	validationcache "cachet/internal/validation/cache"
	validationmetrics "cachet/internal/validation/metrics"
	validationmemory "cachet/internal/validation/store/memory"
	validationpostgres "cachet/internal/validation/store/postgres"
	"cachet/internal/verification"
	verificationhandler "cachet/internal/verification/handler"
	verificationmetrics "cachet/internal/verification/metrics"
	"cachet/internal/verification/ratelimit"
	verificationpgx "cachet/internal/verification/store/pgx"
	"cachet/pkg/platform/tx"
)

const signingKeyID = "cachet-ed25519-1"

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := platformmetrics.NewRegistry()

	// Storage. An empty DATABASE_URL selects the in-memory stores, which is
	// the local development mode.
	var (
		auditStore   audit.Store
		appStore     interface {
			application.Store
			application.ApplicantStore
		}
		valAttempts validation.AttemptStore
		valOutcomes validation.OutcomeStore
		docStore    issuance.Store
		lookupStore verification.ReadStore
		outbox      relay.Source
		atomically  = tx.Passthrough()
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pgAudit := auditpostgres.New(db)
		auditStore = pgAudit
		outbox = pgAudit
		appStore = apppostgres.New(db)
		valStore := validationpostgres.New(db)
		valAttempts, valOutcomes = valStore, valStore
		docStore = issuancepostgres.New(db)
		lookupStore = verificationpgx.New(pool)
		atomically = tx.NewRunner(db)
		log.Info("using postgres storage")
	} else {
		auditStore = auditmemory.New()
		appStore = appmemory.New()
		valStore := validationmemory.New()
		valAttempts, valOutcomes = valStore, valStore
		memDocs := issuancememory.New()
		docStore = memDocs
		lookupStore = memDocs
		log.Warn("no DATABASE_URL set, using in-memory storage")
	}

	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	recorder := audit.NewRecorder(auditStore, log, auditmetrics.New(reg))

	keyring, err := signing.NewMemoryKeyring(signingKeyID)
	if err != nil {
		return err
	}
	signer := signing.New(keyring)

	apps := application.NewService(appStore, appStore, recorder, applicationmetrics.New(reg), log,
		application.WithRules(application.Rules{MinConfidence: cfg.MinConfidence}),
		application.WithSLABudgets(slaBudgets(cfg)),
	)

	validationOpts := []validation.Option{validation.WithConfig(validatorConfig(cfg))}
	if redisClient != nil {
		validationOpts = append(validationOpts, validation.WithPriorResultCache(validationcache.NewRedis(redisClient)))
	}
	orchestrator := validation.NewOrchestrator(
		remoteValidators(cfg),
		valAttempts, valOutcomes,
		recorder, validationmetrics.New(reg), log,
		validationOpts...,
	)

	var events issuance.Publisher = publisher.NewLog(log)
	var kafkaClient *kafka.Client
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient, err = kafka.New(ctx, cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer kafkaClient.Close()
		events = publisher.NewKafka(kafkaClient)
	}

	issuer := issuance.NewService(docStore, apps, appStore, signer, events, recorder, issuancemetrics.New(reg), log,
		issuance.WithConfig(issuerConfig(cfg)),
		issuance.WithKeyring(keyring),
		issuance.WithAtomic(atomically),
	)

	var limiter verification.RateLimiter
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient, cfg.LookupRateLimit, cfg.LookupRateWindow)
	}
	lookupMetrics := verificationmetrics.New(reg)
	verifier := verification.NewService(lookupStore, signer, keyring, recorder, lookupMetrics, log)

	router := httptransport.NewRouter(httptransport.Handlers{
		Applications: applicationhandler.New(apps, orchestrator, issuer, log),
		Documents:    issuancehandler.New(issuer, log),
		Verification: verificationhandler.New(verifier, limiter, lookupMetrics, log),
		Audit:        audithandler.New(recorder, log),
	}, reg, log)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.Run(gctx)
	})
	if kafkaClient != nil && outbox != nil {
		auditRelay := relay.New(outbox, kafkaClient, kafka.TopicAuditEvents, log)
		g.Go(func() error {
			return auditRelay.Run(gctx)
		})
	}
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return httpserver.Shutdown(srv)
	})

	return g.Wait()
}

// remoteValidators builds the adapters for every endpoint configured in the
// environment. An unconfigured kind stays unregistered and the stages that
// plan it fail closed.
func remoteValidators(cfg config.Config) []validation.Validator {
	client := &http.Client{}
	var validators []validation.Validator
	if cfg.PopulationRegistryURL != "" {
		validators = append(validators, adapters.NewPopulationRegistry(cfg.PopulationRegistryURL, client))
	}
	if cfg.BiometricMatchURL != "" {
		validators = append(validators, adapters.NewBiometricMatch(cfg.BiometricMatchURL, client))
	}
	if cfg.CriminalRecordURL != "" {
		validators = append(validators, adapters.NewCriminalRecord(cfg.CriminalRecordURL, client))
	}
	if cfg.TravelDocDirectoryURL != "" {
		validators = append(validators, adapters.NewTravelDocDirectory(cfg.TravelDocDirectoryURL, client))
	}
	return validators
}

func issuerConfig(cfg config.Config) issuance.Config {
	issuerCfg := issuance.DefaultConfig()
	issuerCfg.IssuingState = cfg.IssuingState
	return issuerCfg
}

// validatorConfig carries the environment's call bounds onto the default
// validation plan.
func validatorConfig(cfg config.Config) validation.Config {
	valCfg := validation.DefaultConfig()
	if cfg.ValidatorAttemptTimeout > 0 {
		valCfg.AttemptTimeout = cfg.ValidatorAttemptTimeout
	}
	if cfg.ValidatorMaxAttempts > 0 {
		valCfg.MaxAttempts = cfg.ValidatorMaxAttempts
	}
	if cfg.ValidatorBackoffBase > 0 {
		valCfg.BackoffBase = cfg.ValidatorBackoffBase
	}
	if cfg.BreakerCoolOff > 0 {
		valCfg.BreakerCoolOff = cfg.BreakerCoolOff
	}
	return valCfg
}

// slaBudgets overlays configured per-stage budgets on the published targets.
func slaBudgets(cfg config.Config) application.SLABudgets {
	budgets := application.DefaultSLABudgets()
	for stage, budget := range cfg.StageBudgets {
		budgets.PerStage[application.Stage(stage)] = budget
	}
	if cfg.ExpeditedFactor > 0 {
		budgets.ExpeditedFactor = cfg.ExpeditedFactor
	}
	return budgets
}
