// cmd/api/main.go
package main

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
)

// The gateway fronts the catalog and allocation services behind a
// single origin.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	catalogURL, err := url.Parse(getEnv("CATALOG_SERVICE_URL", "http://localhost:8081"))
	if err != nil {
		log.Error("parsing catalog url", "err", err)
		os.Exit(1)
	}
	allocationURL, err := url.Parse(getEnv("ALLOCATION_SERVICE_URL", "http://localhost:8082"))
	if err != nil {
		log.Error("parsing allocation url", "err", err)
		os.Exit(1)
	}

	catalogProxy := httputil.NewSingleHostReverseProxy(catalogURL)
	allocationProxy := httputil.NewSingleHostReverseProxy(allocationURL)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/catalog/", http.StripPrefix("/api/v1/catalog", catalogProxy))
	mux.Handle("/api/v1/allocation/", http.StripPrefix("/api/v1/allocation", allocationProxy))

	port := getEnv("PORT", "8080")
	log.Info("api gateway listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
