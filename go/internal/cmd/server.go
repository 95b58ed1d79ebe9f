package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(config *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedOrigins: allowedOrigins(config.CORSOrigin),
		AllowedHeaders: []string{"*"},
	})

	// Register services
	services.API.RegisterRoutes(mux)
	services.System.RegisterRoutes(mux)
	services.Gateway.RegisterRoutes(mux)
	mux.Handle("GET /metrics", services.Metrics.Handler())

	// Wrap with CORS
	handler := c.Handler(mux)

	// WriteTimeout stays zero: websocket connections are hijacked and
	// manage their own deadlines.
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func allowedOrigins(origin string) []string {
	var origins []string
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
