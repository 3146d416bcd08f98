// cmd/catalog/main.go
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"loadout/internal/catalog"
	"loadout/internal/store"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	st, cleanup, err := openStore(context.Background())
	if err != nil {
		log.Error("opening store", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	svc := catalog.NewService(st)
	handler := catalog.NewHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	handler.Routes(r)

	port := getEnv("PORT", "8081")
	log.Info("starting catalog service", "port", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// openStore picks Postgres when DATABASE_URL is set, otherwise a local
// SQLite file.
func openStore(ctx context.Context) (catalog.Store, func(), error) {
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
