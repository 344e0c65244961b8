/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package stat provides HTTP handlers for health checking, versioning and metrics.
package stat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.i-core.ru/signflow/internal/logger"
)

// pinger is an interface that is used for checking that a dependency is reachable.
type pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for health checking, versioning and metrics.
type Handler struct {
	version  string
	ready    pinger
	gatherer prometheus.Gatherer
}

// NewHandler creates a new Handler. The service is ready when the pinger is reachable.
func NewHandler(version string, ready pinger, gatherer prometheus.Gatherer) *Handler {
	return &Handler{version: version, ready: ready, gatherer: gatherer}
}

// AddRoutes registers all required routes for the package stat.
func (h *Handler) AddRoutes(apply func(m, p string, h http.Handler, mws ...func(http.Handler) http.Handler)) {
	apply(http.MethodGet, "/health/alive", newHealthAliveHandler())
	apply(http.MethodGet, "/health/ready", newHealthReadyHandler(h.ready))
	apply(http.MethodGet, "/version", newVersionHandler(h.version))
	if h.gatherer != nil {
		apply(http.MethodGet, "/metrics/prometheus", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

func newHealthAliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, struct {
			Status string `json:"status"`
		}{Status: "ok"})
	}
}

func newHealthReadyHandler(ready pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		resp := struct {
			Status string `json:"status"`
		}{Status: "ok"}
		status := http.StatusOK
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := ready.Ping(ctx); err != nil {
				log.Infow("The service is not ready", zap.Error(err))
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, r, status, resp)
	}
}

func newVersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, struct {
			Version string `json:"version"`
		}{Version: version})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.FromContext(r.Context()).Infow("Failed to marshal a response", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(b, '\n'))
}
