package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"blockshield/internal/asset"
	"blockshield/internal/book"
	"blockshield/internal/bridge"
	"blockshield/internal/core"
	"blockshield/internal/ingestion"
	"blockshield/internal/keeper"
	"blockshield/internal/observability"
	"blockshield/internal/oracle"
	"blockshield/internal/persistence"
	"blockshield/internal/query"
	"blockshield/internal/recovery"
	"blockshield/internal/server"
	"blockshield/internal/settlement"
	"blockshield/internal/token"
)

func main() {
	godotenv.Load()
	log := observability.NewLogger("main")

	dsn := os.Getenv("SHIELD_POSTGRES_URL")
	if dsn == "" {
		log.Fatal().Msg("SHIELD_POSTGRES_URL is required")
	}
	natsURL := getEnv("SHIELD_NATS_URL", "nats://localhost:4222")
	httpAddr := getEnv("SHIELD_HTTP_ADDR", ":8080")
	adminToken := os.Getenv("SHIELD_ADMIN_TOKEN")
	custody := getEnv("SHIELD_CUSTODY_ADDRESS", "shield-custody")
	keeperSchedule := getEnv("SHIELD_KEEPER_SCHEDULE", "@every 30s")
	oracleSource := os.Getenv("SHIELD_ORACLE_SOURCE")
	feePayer := getEnv("SHIELD_BRIDGE_FEE_PAYER", custody)
	bridgeFee := getEnvInt64("SHIELD_BRIDGE_FEE", 0)
	migrationsDir := getEnv("SHIELD_MIGRATIONS_DIR", "migrations")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}
	if err := persistence.NewMigrator(db, migrationsDir).Up(); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(natsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// --- Core state ---
	bank := token.NewBank()
	bank.Register("USDC", 6)
	bank.Register("USDT", 6)
	bank.Register("LINK", 18)

	registry := asset.NewRegistry()
	orderBook := book.NewBook()
	settlements := settlement.NewManager()

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	startSeq, err := dbChecker.MaxSequence(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load max sequence")
	}
	if startSeq > 0 {
		startSeq++
	}

	replayed, err := recovery.NewReplayer(db, registry, orderBook, bank, settlements, custody).Replay(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("replay event log")
	}
	if replayed > 0 {
		log.Info().Int64("events", replayed).Msg("in-memory state rebuilt")
	}

	subs := make(chan core.Submission, 1024)
	persistChan := make(chan core.CoreOutput, 4096)
	publishChan := make(chan core.CoreOutput, 4096)

	engine := core.NewEngine(core.Config{
		StartSequence:  startSeq,
		Registry:       registry,
		Book:           orderBook,
		Bank:           bank,
		Settlements:    settlements,
		OracleClient:   oracle.NewNATSClient(js),
		Dispatcher:     bridge.NewNATSDispatcher(js, bank, feePayer, bridgeFee),
		DBChecker:      dbChecker,
		Metrics:        metrics,
		CustodyAddress: custody,
		OracleSource:   oracleSource,
		PersistChan:    persistChan,
		PublishChan:    publishChan,
	})

	keys, err := dbChecker.RecentKeys(ctx, 100_000)
	if err != nil {
		log.Fatal().Err(err).Msg("warm idempotency cache")
	}
	engine.WarmLRU(keys)

	go func() {
		if err := engine.Run(ctx, subs); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("engine stopped")
		}
	}()

	// --- Persistence pipeline ---
	workerInput := make(chan persistence.Output, 4096)
	go func() {
		for out := range persistChan {
			workerInput <- persistence.BuildOutput(out.Envelope, out.Batch, out.Payload)
		}
		close(workerInput)
	}()

	worker := persistence.NewWorker(persistence.WorkerConfig{
		Writer:    persistence.NewEventLogWriter(db),
		InputChan: workerInput,
		Metrics:   metrics,
	})
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	// --- Outbound publishing ---
	publisherInput := make(chan ingestion.PublishableEvent, 4096)
	go func() {
		for out := range publishChan {
			publisherInput <- ingestion.PublishableEvent{
				Sequence:       out.Envelope.Sequence,
				EventType:      out.Envelope.EventType.String(),
				IdempotencyKey: out.Envelope.IdempotencyKey,
				PolicySymbol:   out.Envelope.PolicySymbol,
				Payload:        out.Payload,
				Timestamp:      out.Envelope.Timestamp,
			}
		}
		close(publisherInput)
	}()

	publisher := ingestion.NewOutboundPublisher(js, publisherInput)
	go publisher.Run(ctx)

	// --- Inbound ingestion ---
	subjects := ingestion.DefaultSubjects()
	typeBySubject := make(map[string]string, len(subjects))
	for _, cfg := range subjects {
		typeBySubject[cfg.Subject] = cfg.EventType
	}

	rawChan := make(chan ingestion.RawEvent, 1024)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan)
	if err := subscriber.Subscribe(ctx, subjects); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}

	go func() {
		for raw := range rawChan {
			eventType, ok := typeBySubject[raw.Subject]
			if !ok {
				log.Warn().Str("subject", raw.Subject).Msg("unmapped subject")
				raw.AckFunc()
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				// Malformed messages never become valid; ack to drop.
				log.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable message")
				raw.AckFunc()
				continue
			}

			reply := make(chan error, 1)
			select {
			case subs <- core.Submission{Evt: evt, Reply: reply}:
			case <-ctx.Done():
				raw.NakFunc()
				return
			}

			select {
			case err := <-reply:
				if err != nil {
					log.Warn().Err(err).Str("subject", raw.Subject).Msg("event rejected")
					raw.NakFunc()
					continue
				}
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}()

	// --- Keeper ---
	upkeep := keeper.New(settlements, subs, metrics)
	if err := upkeep.Start(ctx, keeperSchedule); err != nil {
		log.Fatal().Err(err).Msg("start keeper")
	}

	// --- HTTP ---
	srv := server.New(server.Config{
		Submissions: subs,
		Queries:     query.NewService(db),
		Health:      health,
		Metrics:     metrics,
		AdminToken:  adminToken,
	})
	httpSrv := &http.Server{Addr: httpAddr, Handler: srv.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	health.SetReady(true)
	log.Info().Str("http", httpAddr).Str("nats", natsURL).Msg("blockshield running")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	httpSrv.Shutdown(shutdownCtx)
	upkeep.Stop()
	subscriber.Stop()

	// Let the persistence worker drain before closing Postgres.
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("persistence worker did not drain in time")
	}

	log.Info().Msg("shutdown complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
