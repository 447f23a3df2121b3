// Testbackend is a toy upstream for running the balancer by hand. It answers
// GET requests with a JSON body tagged with its name, serves /ping for the
// connection monitor, and can be told to fail so demotion and revival can be
// watched live.
//
// Usage:
//
//	go run ./cmd/testbackend -port 8081 -name a
//	curl -X POST localhost:8081/fail      # /ping and GETs start returning 503
//	curl -X POST localhost:8081/recover
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angeloszaimis/balancir/pkg/logger"
)

const backendHeader = "X-Backend-Server"

type reply struct {
	ID      string    `json:"id"`
	Backend string    `json:"backend"`
	Path    string    `json:"path"`
	Served  time.Time `json:"served"`
}

type backend struct {
	name    string
	failing atomic.Bool
	served  atomic.Int64
	logger  *slog.Logger
}

func newBackend(name string, logger *slog.Logger) *backend {
	return &backend{name: name, logger: logger}
}

func (b *backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.tag)

	r.Get("/ping", b.ping)
	r.Post("/fail", b.setFailing(true))
	r.Post("/recover", b.setFailing(false))
	r.Get("/*", b.serve)

	return r
}

func (b *backend) tag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(backendHeader, b.name)
		next.ServeHTTP(w, r)
	})
}

func (b *backend) ping(w http.ResponseWriter, r *http.Request) {
	if b.failing.Load() {
		http.Error(w, "failing", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (b *backend) setFailing(failing bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.failing.Store(failing)
		b.logger.Info("Failure mode changed", slog.Bool("failing", failing))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	if b.failing.Load() {
		http.Error(w, "failing", http.StatusServiceUnavailable)
		return
	}

	res := reply{
		ID:      uuid.NewString(),
		Backend: b.name,
		Path:    r.URL.Path,
		Served:  time.Now().UTC(),
	}
	b.served.Add(1)
	b.logger.Debug("Request served",
		slog.String("id", res.ID),
		slog.String("path", res.Path),
		slog.String("request_id", r.Header.Get("X-Request-ID")))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "", "name reported in responses (defaults to the port)")
	failing := flag.Bool("failing", false, "start in failure mode")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *name == "" {
		*name = fmt.Sprintf("backend-%d", *port)
	}

	log := logger.New(*level, false, "dev").With(slog.String("backend", *name))

	b := newBackend(*name, log)
	b.failing.Store(*failing)

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Starting backend", slog.String("address", addr), slog.Bool("failing", *failing))
	if err := http.ListenAndServe(addr, b.routes()); err != nil {
		log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
