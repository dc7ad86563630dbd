package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/marketcompass/reconciler/internal/cache"
	"github.com/marketcompass/reconciler/internal/config"
	"github.com/marketcompass/reconciler/internal/debugstore"
	"github.com/marketcompass/reconciler/internal/fx"
	"github.com/marketcompass/reconciler/internal/ingest"
	"github.com/marketcompass/reconciler/internal/llmmatch"
	"github.com/marketcompass/reconciler/internal/logging"
	"github.com/marketcompass/reconciler/internal/patterns"
	"github.com/marketcompass/reconciler/internal/provider"
	"github.com/marketcompass/reconciler/internal/reconcile"
	"github.com/marketcompass/reconciler/internal/storage"
	"github.com/marketcompass/reconciler/internal/suggest"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(settings.Verbose)

	mode := flag.String("mode", "reconcile", "reconcile | ingest | suggest-patterns | promote-suggestion | migrate")
	limit := flag.Int("limit", 500, "reconcile: max raw rows to process")
	country := flag.String("country", "", "reconcile/ingest: ISO country code (empty = all)")
	dryRun := flag.Bool("dry-run", false, "reconcile: roll back the transaction after computing stats")

	query := flag.String("query", "", "ingest: search query text")
	gl := flag.String("gl", "", "ingest: provider geolocation code")
	hl := flag.String("hl", "en", "ingest: provider language code")
	location := flag.String("location", "", "ingest: provider location string")
	source := flag.String("source", "google_shopping", "ingest: source tag stored on raw_offers")

	sampleLimit := flag.Int("sample-limit", 300, "suggest-patterns: rows to sample")
	llmBatches := flag.Int("llm-batches", 2, "suggest-patterns: number of LLM batches")
	itemsPerBatch := flag.Int("items-per-batch", 40, "suggest-patterns: items per batch")
	forceRefresh := flag.Bool("force-refresh", false, "suggest-patterns: bypass the cached result")

	promoteKind := flag.String("kind", "", "promote-suggestion: pattern kind (contract|condition_new|condition_used|condition_refurbished)")
	promotePhrase := flag.String("phrase", "", "promote-suggestion: phrase text")

	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := storage.Connect(ctx, settings.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if *mode == "migrate" {
		if err := pool.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		log.Info().Msg("migration applied")
		return
	}

	c, err := buildCache(settings)
	if err != nil {
		log.Fatal().Err(err).Msg("build cache")
	}

	// Every operation is bounded, matching the teacher's
	// explainTransaction() convention of wrapping a context.WithTimeout
	// around one unit of work rather than letting a run hang forever.
	opCtx, opCancel := context.WithTimeout(ctx, 15*time.Minute)
	defer opCancel()

	switch *mode {
	case "reconcile":
		runReconcile(opCtx, settings, pool, c, log, *limit, *country, *dryRun)
	case "ingest":
		runIngest(opCtx, settings, pool, c, log, *query, *gl, *hl, *location, *country, *source)
	case "suggest-patterns":
		runSuggest(opCtx, settings, pool, c, log, *sampleLimit, *llmBatches, *itemsPerBatch, *forceRefresh)
	case "promote-suggestion":
		runPromote(opCtx, pool, log, *promoteKind, *promotePhrase)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func buildCache(settings *config.Settings) (cache.Cache, error) {
	backend, err := cache.NewRedisCache(settings.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return cache.NewLayered(backend, cache.GoldenSkuL1TTL)
}

func buildDebugStore(settings *config.Settings, log zerolog.Logger) debugstore.Store {
	if settings.DebugRetentionBucket == "" || !settings.SerpAPIDebugSave {
		return debugstore.NoOp{}
	}
	store, err := debugstore.NewS3Store(settings.DebugRetentionBucket)
	if err != nil {
		log.Warn().Err(err).Msg("debug retention bucket configured but unreachable, disabling")
		return debugstore.NoOp{}
	}
	return store
}

func buildLLM(settings *config.Settings) (*openai.LLM, error) {
	if !settings.LLMEnabled {
		return nil, nil
	}
	return openai.New(
		openai.WithToken(settings.OpenAIAPIKey),
		openai.WithModel(settings.OpenAIModelParse),
		openai.WithBaseURL(settings.OpenAIBaseURL),
	)
}

func runReconcile(ctx context.Context, settings *config.Settings, pool *storage.Pool, c cache.Cache, log zerolog.Logger, limit int, country string, dryRun bool) {
	runID := uuid.NewString()
	runLog := logging.ForRun(log, "reconcile", runID)

	llm, err := buildLLM(settings)
	if err != nil {
		runLog.Fatal().Err(err).Msg("build llm client")
	}

	var matcher *llmmatch.Matcher
	if llm != nil {
		matcher = llmmatch.New(llm, c, runLog)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		runLog.Fatal().Err(err).Msg("begin transaction")
	}
	defer func() {
		if dryRun {
			_ = tx.Rollback(ctx)
			return
		}
		if err := tx.Commit(ctx); err != nil {
			runLog.Error().Err(err).Msg("commit reconcile transaction")
		}
	}()

	r := reconcile.New(reconcile.Deps{
		RawOffers: storage.NewRawOfferStore(tx),
		Offers:    storage.NewOfferStore(tx),
		Skus:      storage.NewGoldenSkuStore(tx, c),
		Merchants: storage.NewMerchantStore(tx),
		Phrases:   storage.NewPatternPhraseStore(tx),
		FX:        fx.NewService(settings.OpenExchangeRatesKey, c),
		Matcher:   matcher,

		LLMEnabled:           settings.LLMEnabled,
		LLMMaxCalls:          settings.LLMMaxCallsPerReconcile,
		LLMMaxFractionPerRun: settings.LLMMaxFractionPerReconcile,
	}, runLog)

	stats, debug, err := r.Run(ctx, reconcile.Options{Limit: limit, CountryCode: country, DryRun: dryRun})
	if err != nil {
		_ = tx.Rollback(ctx)
		runLog.Fatal().Err(err).Msg("reconcile run")
	}

	runLog.Info().
		Bool("dry_run", dryRun).
		Str("processed", humanize.Comma(int64(stats.Processed))).
		Int("created", stats.Created).
		Int("linked_existing", stats.LinkedExistingOffer).
		Int("dedup_conflict", stats.DedupConflict).
		Int("skipped_missing_title", stats.SkippedMissingTitle).
		Int("skipped_multi_variant", stats.SkippedMultiVariant).
		Int("skipped_contract", stats.SkippedContract).
		Int("skipped_missing_attrs", stats.SkippedMissingAttrs).
		Int("skipped_sku_not_in_catalog", stats.SkippedSkuNotInCatalog).
		Int("skipped_fx_unavailable", stats.SkippedFxUnavailable).
		Int("llm_budget", stats.LLMBudget).
		Int("llm_external_calls", stats.LLMExternalCalls).
		Int("llm_reused", stats.LLMReused).
		Int("llm_skipped_budget", stats.LLMSkippedBudget).
		Interface("sample_created_offer_ids", debug.CreatedOfferIDs).
		Msg("reconcile run complete")
}

func runIngest(ctx context.Context, settings *config.Settings, pool *storage.Pool, c cache.Cache, log zerolog.Logger, query, gl, hl, location, country, source string) {
	if query == "" {
		log.Fatal().Msg("ingest: -query is required")
	}
	runLog := logging.ForRun(log, "ingest", uuid.NewString())

	tx, err := pool.Begin(ctx)
	if err != nil {
		runLog.Fatal().Err(err).Msg("begin transaction")
	}

	debug := buildDebugStore(settings, runLog)
	p := provider.NewClient(settings.ShoppingAPIKey, c, debug, runLog)
	w := ingest.New(p, storage.NewRawOfferStore(tx), storage.NewPatternPhraseStore(tx), runLog)

	stats, err := w.Run(ctx, ingest.Query{Text: query, GL: gl, HL: hl, Location: location, CountryCode: country, Source: source})
	if err != nil {
		_ = tx.Rollback(ctx)
		runLog.Fatal().Err(err).Msg("ingest run")
	}
	if err := tx.Commit(ctx); err != nil {
		runLog.Fatal().Err(err).Msg("commit ingest transaction")
	}

	runLog.Info().Int("fetched", stats.Fetched).Int("written", stats.Written).Msg("ingest run complete")
}

func runSuggest(ctx context.Context, settings *config.Settings, pool *storage.Pool, c cache.Cache, log zerolog.Logger, sampleLimit, llmBatches, itemsPerBatch int, forceRefresh bool) {
	if !settings.LLMEnabled {
		log.Fatal().Msg("suggest-patterns requires LLM_ENABLED=true")
	}
	runID := uuid.NewString()
	runLog := logging.ForRun(log, "suggest-patterns", runID)

	llm, err := buildLLM(settings)
	if err != nil {
		runLog.Fatal().Err(err).Msg("build llm client")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		runLog.Fatal().Err(err).Msg("begin transaction")
	}

	s := suggest.New(storage.NewRawOfferStore(tx), c, llm, settings.PatternSuggestMaxConcurrency, runLog)
	store := storage.NewPatternSuggestionStore(tx)

	result, err := s.Run(ctx, suggest.Options{
		SampleLimit:   sampleLimit,
		LLMBatches:    llmBatches,
		ItemsPerBatch: itemsPerBatch,
		ForceRefresh:  forceRefresh,
	}, store, runID)
	if err != nil {
		_ = tx.Rollback(ctx)
		runLog.Fatal().Err(err).Msg("suggest-patterns run")
	}
	if err := tx.Commit(ctx); err != nil {
		runLog.Fatal().Err(err).Msg("commit suggest-patterns transaction")
	}

	counts := map[patterns.Kind]int{}
	for kind, suggestions := range result.ByKind {
		counts[kind] = len(suggestions)
	}
	runLog.Info().Bool("cached", result.Cached).Interface("counts_by_kind", counts).Msg("suggest-patterns run complete")
}

func runPromote(ctx context.Context, pool *storage.Pool, log zerolog.Logger, kind, phrase string) {
	if kind == "" || phrase == "" {
		log.Fatal().Msg("promote-suggestion requires -kind and -phrase")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("begin transaction")
	}

	store := storage.NewPatternPhraseStore(tx)
	if err := store.Promote(ctx, patterns.Kind(kind), phrase); err != nil {
		_ = tx.Rollback(ctx)
		log.Fatal().Err(err).Msg("promote phrase")
	}

	suggestions := storage.NewPatternSuggestionStore(tx)
	if err := suggestions.MarkPromoted(ctx, patterns.Kind(kind), phrase); err != nil {
		log.Warn().Err(err).Msg("mark suggestion promoted")
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatal().Err(err).Msg("commit promote-suggestion transaction")
	}

	log.Info().Str("kind", kind).Str("phrase", phrase).Msg("phrase promoted")
}
