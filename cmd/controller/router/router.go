// Package router configures HTTP routes for the controller's HTTP API.
//
// The controller exposes an HTTP server (default :8080) that provides the
// scored state table, the action audit log, the active envelope model, mode
// control, health checks, and Prometheus metrics.
//
// Routes configured:
//   - GET  /state - Current per-rack scored state, sorted by rack id
//   - GET  /state?rack=<id> - State for a single rack
//   - GET  /actions?rack=<id>&limit=<n> - Recent action records, newest first
//   - GET  /model/current - Active envelope model metadata
//   - GET  /mode - Current mode and kill switch
//   - POST /mode - Change mode and/or kill switch
//   - GET  /healthz - Health check endpoint (returns 200 OK)
//   - GET  /metrics - Prometheus metrics endpoint
//
// POST /mode takes a JSON body {"mode": "advisory"|"closed_loop",
// "kill_switch": bool}; omitted fields keep their current value. Mode changes
// take effect on the next dispatch, never mid-action.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/rackguard/pkg/control"
	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/httpx"
	"github.com/HatiCode/rackguard/pkg/storage"
)

var rackIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,251}[a-zA-Z0-9])?$`)

const defaultActionLimit = 50

// SetupRoutes configures HTTP endpoints for the controller.
func SetupRoutes(table *control.Table, scorer *envelope.Scorer, store storage.ActionStore, sw *control.Switch, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.HandleFunc("/state", handleGetState(table, logger))
	mux.HandleFunc("/actions", handleListActions(store, logger))
	mux.HandleFunc("/model/current", handleGetModel(scorer, logger))
	mux.HandleFunc("/mode", handleMode(sw, logger))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleGetState returns a handler for GET /state.
func handleGetState(table *control.Table, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		rack := r.URL.Query().Get("rack")
		if rack != "" {
			if !rackIDRegex.MatchString(rack) {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid rack id format")
				return
			}
			st, ok := table.Get(rack)
			if !ok {
				httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("rack %q not found", rack))
				return
			}
			if err := httpx.WriteJSON(w, http.StatusOK, st); err != nil {
				logger.Error("failed to write JSON response", "error", err)
			}
			return
		}

		resp := map[string]any{
			"racks": table.Snapshot(),
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleListActions returns a handler for GET /actions?rack=<id>&limit=<n>.
func handleListActions(store storage.ActionStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		rack := r.URL.Query().Get("rack")
		if rack != "" && !rackIDRegex.MatchString(rack) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid rack id format")
			return
		}

		limit := defaultActionLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		recs, err := store.List(ctx, rack, limit)
		if err != nil {
			logger.Error("failed to list action records", "rack", rack, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		resp := map[string]any{
			"actions": recs,
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleGetModel returns a handler for GET /model/current.
func handleGetModel(scorer *envelope.Scorer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		model := scorer.Active()
		if model == nil {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "no active model")
			return
		}

		resp := map[string]any{
			"id":              model.ID,
			"createdAt":       model.CreatedAt.Format(time.RFC3339),
			"features":        model.Features,
			"clusters":        len(model.Centroids),
			"tauFast":         model.TauFast,
			"tauPersist":      model.TauPersist,
			"trainingSamples": model.TrainingSamples,
			"trainedFrom":     model.TrainedFrom.Format(time.RFC3339),
			"trainedTo":       model.TrainedTo.Format(time.RFC3339),
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// modeRequest is the POST /mode body. Pointer fields distinguish "not set"
// from zero values so a request can change one knob without the other.
type modeRequest struct {
	Mode       *string `json:"mode"`
	KillSwitch *bool   `json:"kill_switch"`
}

// handleMode returns a handler for GET and POST /mode.
func handleMode(sw *control.Switch, logger *slog.Logger) http.HandlerFunc {
	writeCurrent := func(w http.ResponseWriter) {
		resp := map[string]any{
			"mode":        string(sw.Mode()),
			"kill_switch": sw.KillSwitch(),
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeCurrent(w)

		case http.MethodPost:
			var req modeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			if req.Mode == nil && req.KillSwitch == nil {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "body must set mode and/or kill_switch")
				return
			}
			if req.Mode != nil {
				mode, err := control.ParseMode(*req.Mode)
				if err != nil {
					httpx.WriteError(w, http.StatusBadRequest, err)
					return
				}
				sw.SetMode(mode)
				logger.Info("mode changed", "mode", mode)
			}
			if req.KillSwitch != nil {
				sw.SetKillSwitch(*req.KillSwitch)
				logger.Info("kill switch changed", "engaged", *req.KillSwitch)
			}
			writeCurrent(w)

		default:
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}
