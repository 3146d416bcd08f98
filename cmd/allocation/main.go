// cmd/allocation/main.go
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"loadout/internal/clients"
	"loadout/internal/manifest"
	"loadout/internal/projection"
	"loadout/internal/store"
)

// allocationStore is everything the allocation service needs from a
// storage backend. Both store.Postgres and store.SQLite satisfy it.
type allocationStore interface {
	manifest.Store
	manifest.Ledger
	projection.Ledger
	projection.Requirements
	projection.Summaries
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx := context.Background()

	shutdown, err := setupTracing(ctx)
	if err != nil {
		log.Error("setting up tracing", "err", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	st, cleanup, err := openStore(ctx)
	if err != nil {
		log.Error("opening store", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	catalogClient := clients.NewCatalogClient(getEnv("CATALOG_SERVICE_URL", "http://localhost:8081"))
	resyncer := projection.NewResyncer(st, st, st, catalogClient)
	svc := manifest.NewService(st, st, catalogClient, resyncer, log)
	handler := manifest.NewHandler(svc)

	rps, err := strconv.Atoi(getEnv("RATE_LIMIT_RPS", "50"))
	if err != nil || rps <= 0 {
		rps = 50
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(manifest.RateLimit(rate.NewLimiter(rate.Limit(rps), rps*2)))
	handler.Routes(r)

	port := getEnv("PORT", "8082")
	log.Info("starting allocation service", "port", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// setupTracing installs an OTLP trace exporter when an endpoint is
// configured, and is a no-op otherwise.
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "loadout-allocation"),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func openStore(ctx context.Context) (allocationStore, func(), error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pg, func() { db.Close() }, nil
	}

	sq, err := store.OpenSQLite(getEnv("LOADOUT_DB", "loadout.db"))
	if err != nil {
		return nil, nil, err
	}
	return sq, func() { sq.Close() }, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
