package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/balancir/internal/handler"
	"github.com/angeloszaimis/balancir/internal/metrics"
)

func setupRouter(lb *handler.LoadBalancerHandler, admin *handler.AdminHandler, collector *metrics.Collector, strategy string) http.Handler {
	r := chi.NewRouter()
	r.Use(handler.RequestID)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/fire", admin.Fire)
		r.Get("/state", admin.State)
	})
	r.Get("/stats", collector.Handler(strategy))
	r.Method(http.MethodGet, "/metrics", collector.PrometheusHandler())

	r.Handle("/*", lb)

	return r
}
