package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angeloszaimis/balancir/internal/connector"
	"github.com/angeloszaimis/balancir/internal/distributor"
)

const RequestIDHeader = "X-Request-ID"

type Dispatcher interface {
	Get(ctx context.Context, path string) (connector.Response, error)
}

type LoadBalancerHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
}

func NewLoadBalancerHandler(logger *slog.Logger, dispatcher Dispatcher) *LoadBalancerHandler {
	return &LoadBalancerHandler{
		logger:     logger,
		dispatcher: dispatcher,
	}
}

func (lb *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)
	path := r.URL.RequestURI()

	lb.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", path),
		slog.String("request_id", r.Header.Get(RequestIDHeader)))

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := lb.dispatcher.Get(r.Context(), path)
	if errors.Is(err, distributor.ErrNoConnectorsAvailable) {
		lb.logger.Warn("No connectors available", slog.String("client", clientIP))
		http.Error(w, "No healthy server available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		lb.logger.Warn("Upstream call failed",
			slog.String("client", clientIP),
			slog.Any("err", err))
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	httpRes, ok := res.(*connector.HTTPResponse)
	if !ok {
		if res.Successful() {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	for k, values := range httpRes.Header() {
		if isHopByHop(k) {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(httpRes.StatusCode())
	w.Write(httpRes.Body())
}

// RequestID tags requests that arrive without an ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func isHopByHop(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Content-Length":
		return true
	}
	return false
}
