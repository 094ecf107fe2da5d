package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 运维端点
// =============================================================================

// handler 组装 /health、/ready、/metrics 与 /debug/* 路由及中间件链
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /ready", a.handleReady)
	mux.Handle("GET /metrics", a.metricsHandler())
	mux.HandleFunc("GET /debug/resilience", a.handleResilience)
	mux.HandleFunc("GET /debug/router", a.handleRouter)
	mux.HandleFunc("GET /debug/agents", a.handleAgents)

	return Chain(mux,
		Recovery(a.logger),
		RequestID(),
		OTelTracing(),
		RequestLogger(a.logger),
		MetricsMiddleware(a.collector),
	)
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"agents":  a.fleet.Len(),
	})
}

func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if failed := a.ready(ctx); len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// metricsHandler refreshes the guard gauges before each scrape.
func (a *app) metricsHandler() http.Handler {
	prom := promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{Registry: a.promRegistry})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.collector.ObserveGuards(a.guards.Snapshot())
		prom.ServeHTTP(w, r)
	})
}

func (a *app) handleResilience(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"guards":        a.guards.Snapshot(),
		"open_circuits": a.guards.OpenCircuits(),
	})
}

func (a *app) handleRouter(w http.ResponseWriter, _ *http.Request) {
	pending := a.router.Pending()
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":  a.router.Strategy(),
		"transport": a.port.Name(),
		"pending":   pending,
	})
}

// handleAgents lists owner-held agent state; ?tenant= narrows to one tenant.
func (a *app) handleAgents(w http.ResponseWriter, r *http.Request) {
	recs, err := a.fleet.Snapshot(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		a.logger.Warn("agent snapshot failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	out := make([]agent.State, len(recs))
	for i, rec := range recs {
		out[i] = rec.State()
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
