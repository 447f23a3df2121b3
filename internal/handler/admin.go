package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

type Firer interface {
	Fire(ctx context.Context)
}

type StateReader interface {
	Active() map[string]int
	Failed() []string
}

type State struct {
	Active map[string]int `json:"active"`
	Failed []string       `json:"failed"`
}

type AdminHandler struct {
	logger  *slog.Logger
	monitor Firer
	state   StateReader
}

func NewAdminHandler(logger *slog.Logger, monitor Firer, state StateReader) *AdminHandler {
	return &AdminHandler{
		logger:  logger,
		monitor: monitor,
		state:   state,
	}
}

// Fire runs one probe cycle synchronously.
func (a *AdminHandler) Fire(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("Probe cycle requested", slog.String("from", extractClientIP(r)))
	a.monitor.Fire(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminHandler) State(w http.ResponseWriter, r *http.Request) {
	state := State{
		Active: a.state.Active(),
		Failed: a.state.Failed(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
