// Package main implements scoutd, the scout engine daemon. One process owns
// the cron scheduler, the review bus and the status server; the CLI talks to
// the same SQLite store from outside.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/scoutline/scoutd/engine/agent"
	"github.com/scoutline/scoutd/engine/config"
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/memory"
	"github.com/scoutline/scoutd/engine/review"
	"github.com/scoutline/scoutd/engine/schedule"
	"github.com/scoutline/scoutd/engine/scout"
	"github.com/scoutline/scoutd/engine/source"
	"github.com/scoutline/scoutd/engine/store"
	"github.com/scoutline/scoutd/pkg/metrics"
	"github.com/scoutline/scoutd/pkg/mid"
	"github.com/scoutline/scoutd/pkg/runlog"
)

// qdrantCollection is where fingerprint vectors are mirrored when a Qdrant
// address is configured.
const qdrantCollection = "scout_fingerprints"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "scoutd:", err)
		os.Exit(1)
	}

	logger, err := runlog.App(cfg.LogDir(), cfg.SlogLevel())
	if err != nil {
		fmt.Fprintln(os.Stderr, "scoutd:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing (only when a collector is configured) ---
	if cfg.OTLPEndpoint != "" {
		shutdown, err := initTracing(ctx, logger)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	// --- One daemon per state directory ---
	lock, err := schedule.AcquirePID(cfg.PIDPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	// --- Store ---
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Dedup memory ---
	var embed func() (memory.Embedder, error)
	if cfg.SemanticDedup {
		embed = embedFactory(ctx, cfg)
	}
	var ann memory.VectorIndex
	if cfg.QdrantAddr != "" {
		qd, err := memory.NewQdrantIndex(cfg.QdrantAddr, qdrantCollection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer qd.Close()
		ann = qd
	}
	mem := memory.New(st, embed, ann, logger)
	if ann != nil {
		if err := mem.Sync(ctx); err != nil {
			logger.Warn("vector index sync failed, hash dedup still covers history", "error", err)
		}
	}

	// --- Model providers ---
	rt := agent.New(logger, agent.DefaultOptions())
	var images scout.ImageGenerator
	if cfg.GeminiKey != "" {
		gp, err := agent.NewGeminiProvider(ctx, cfg.GeminiKey, "")
		if err != nil {
			return fmt.Errorf("gemini provider: %w", err)
		}
		defer gp.Close()
		rt.Register(gp)
		images = gp
	}
	if cfg.AnthropicKey != "" {
		ap, err := agent.NewAnthropicProvider(cfg.AnthropicKey, "")
		if err != nil {
			return fmt.Errorf("anthropic provider: %w", err)
		}
		rt.Register(ap)
	}
	if !rt.Has(agent.DefaultProvider) {
		logger.Warn("default model provider has no key, scheduled runs will fail until one is set",
			"provider", agent.DefaultProvider)
	}

	// --- Source adapters ---
	rss := source.NewRSS(st, logger)
	web := source.NewWebpage(logger)
	sources := source.NewRegistry()
	sources.Register("rss", rss)
	sources.Register("reddit", source.NewReddit(logger))
	sources.Register("google_search", source.NewSearch(cfg.SearchKey, cfg.SearchCX, logger))
	sources.Register("arxiv", source.NewArXiv(logger))
	sources.Register("http_request", web)

	// --- Executor, scheduler, review bus ---
	reg := metrics.New()
	reg.CollectRuntime("scoutd", 15*time.Second)
	exec := scout.New(st, mem, rt, scout.Toolbox{
		Registry: sources,
		RSS:      rss,
		Webpage:  web,
		Images:   images,
	}, scout.Options{
		LogDir:   cfg.LogDir(),
		ImageDir: filepath.Join(cfg.Home, "images"),
		Metrics:  reg,
	}, logger)

	var notifier review.Notifier
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("scoutd"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		notifier = review.NewNATSNotifier(nc)
		logger.Info("review events publish to nats", "url", cfg.NATSURL, "subject", review.SubjectPending)
	}

	pubs := review.NewPublishers()
	if cfg.XAPIKey != "" {
		pubs.Register("x", review.NewXPublisher(review.XCredentials{
			APIKey:            cfg.XAPIKey,
			APISecret:         cfg.XAPISecret,
			AccessToken:       cfg.XAccessToken,
			AccessTokenSecret: cfg.XAccessTokenSecret,
		}))
	}

	bus := review.New(st, rt, mem, review.Options{
		Notifier:   notifier,
		Publishers: pubs,
		Poll:       cfg.ReviewPoll,
		Metrics:    reg,
	}, logger)

	sched := schedule.New(st, exec, logger)
	sched.Poke = bus.Wake
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		bus.Run(ctx)
	}()

	// --- SIGHUP reloads the cron table after scout edits ---
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			logger.Info("reloading schedules")
			if err := sched.Reload(ctx); err != nil {
				logger.Error("schedule reload failed", "error", err)
			}
		}
	}()

	// --- Status server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /status", handleStatus(st, sched, logger))
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.OTel("scoutd"),
		mid.Logger(logger),
	)

	srv := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server starting", "addr", cfg.StatusAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	<-busDone
	return nil
}

// embedFactory defers embedder construction to first use so the daemon
// starts even when the backend is down; a failed build degrades that run to
// hash-only dedup.
func embedFactory(ctx context.Context, cfg config.Config) func() (memory.Embedder, error) {
	switch cfg.EmbedBackend {
	case "genai":
		return func() (memory.Embedder, error) {
			return memory.NewGenAIEmbedder(ctx, cfg.GeminiKey, "")
		}
	default:
		return func() (memory.Embedder, error) {
			return memory.NewOllamaEmbedder(cfg.OllamaAddr, ""), nil
		}
	}
}

// initTracing wires the OTLP trace exporter; endpoint and headers come from
// the standard OTEL_EXPORTER_OTLP_* variables. Spans cover provider calls,
// scout runs and outbound HTTP.
func initTracing(ctx context.Context, logger *slog.Logger) (func(), error) {
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", "scoutd"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutCtx); err != nil {
			logger.Warn("trace provider shutdown failed", "error", err)
		}
	}, nil
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusResponse is the JSON body for GET /status.
type statusResponse struct {
	Scouts        int               `json:"scouts"`
	PendingDrafts int               `json:"pending_drafts"`
	NextFirings   []schedule.Firing `json:"next_firings"`
}

func handleStatus(st *store.Store, sched *schedule.Scheduler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scouts, err := st.ListScouts(r.Context())
		if err != nil {
			logger.Error("status: list scouts failed", "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		pending, err := st.CountDraftsByStatus(r.Context(), domain.StatusPendingReview)
		if err != nil {
			logger.Error("status: count drafts failed", "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			Scouts:        len(scouts),
			PendingDrafts: pending,
			NextFirings:   sched.Firings(),
		})
	}
}
