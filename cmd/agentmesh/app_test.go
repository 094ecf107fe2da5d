package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/resilience"
	"github.com/BaSui01/agentmesh/router"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Fleet.Tenants = []string{fixtures.DefaultTenant}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })
	return a
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func getJSON(t *testing.T, srv *httptest.Server, path string, into any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestApp_MemoryEndpoints(t *testing.T) {
	a := newTestApp(t, nil)
	require.NoError(t, a.fleet.Register(context.Background(), fixtures.DataProcessor()))

	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/health", &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["agents"])

	var ready map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/ready", &ready))

	var agents struct {
		Agents []struct {
			ID       string `json:"id"`
			TenantID string `json:"tenant_id"`
		} `json:"agents"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/debug/agents?tenant="+fixtures.DefaultTenant, &agents))
	require.Len(t, agents.Agents, 1)
	assert.Equal(t, "agent-dp", agents.Agents[0].ID)

	var rt map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/debug/router", &rt))
	assert.Equal(t, string(router.StrategyLoadBalanced), rt["strategy"])
	assert.Equal(t, "memory", rt["transport"])

	a.guards.Guard("memory")
	var res struct {
		Guards []struct {
			Name string `json:"name"`
		} `json:"guards"`
		OpenCircuits []string `json:"open_circuits"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/debug/resilience", &res))
	require.Len(t, res.Guards, 1)
	assert.Equal(t, "memory", res.Guards[0].Name)
	assert.Empty(t, res.OpenCircuits)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "agentmesh_http_requests_total")
	assert.Contains(t, string(body), `agentmesh_circuit_state{name="memory"} 0`)
}

func TestApp_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Redis.Addr = mr.Addr()
		cfg.Repository.Type = "redis"
		cfg.Transport.Type = "redisstream"
		cfg.Events.RedisChannel = "agentmesh:events"
	})
	require.NotNil(t, a.redis)
	assert.Equal(t, "redis_stream", a.port.Name())

	require.NoError(t, a.fleet.Register(context.Background(), fixtures.DataProcessor()))
	keys := mr.Keys()
	assert.Contains(t, keys, "agentmesh:agents:"+fixtures.DefaultTenant)

	srv := httptest.NewServer(a.handler())
	defer srv.Close()
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/ready", nil))

	mr.Close()
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv, "/ready", &ready))
	assert.Equal(t, "not_ready", ready.Status)
	assert.Contains(t, ready.Checks, "redis")
	assert.Contains(t, ready.Checks, "repository")
}

func TestApp_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultConfig()
	cfg.Redis.Addr = addr
	cfg.Repository.Type = "redis"
	_, err := newApp(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "connect redis")
}

func TestApp_GormRepositoryLoadsAgents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "mesh.db")
	mutate := func(cfg *config.Config) {
		cfg.Repository.Type = "gorm"
		cfg.Repository.AutoMigrate = true
		cfg.Database.Driver = "sqlite"
		cfg.Database.Name = dbPath
	}

	cfg := config.DefaultConfig()
	cfg.Fleet.Tenants = []string{fixtures.DefaultTenant}
	mutate(cfg)
	first, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, first.dbPool)
	require.NoError(t, first.fleet.Register(context.Background(), fixtures.DataProcessor()))
	require.NoError(t, first.close())

	second := newTestApp(t, mutate)
	assert.Equal(t, 1, second.fleet.Len(), "persisted agents are loaded on start")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.HTTPPort = freePort(t)
		cfg.Router.Strategy = "priority_queue"
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestPolicyFrom(t *testing.T) {
	rc := config.DefaultResilienceConfig()
	rc.Breaker.FailureThreshold = 9
	rc.Retry.MaxAttempts = 7
	rc.Bulkhead.MaxConcurrent = 3

	p := policyFrom(rc)
	assert.Equal(t, 9, p.Breaker.FailureThreshold)
	assert.Equal(t, 7, p.Retry.MaxAttempts)
	assert.Equal(t, 3, p.Bulkhead.MaxConcurrent)

	def := resilience.DefaultPolicy()
	zero := policyFrom(config.ResilienceConfig{})
	assert.Equal(t, def.Breaker.FailureThreshold, zero.Breaker.FailureThreshold)
	assert.Equal(t, def.Retry.MaxAttempts, zero.Retry.MaxAttempts)
	assert.Equal(t, def.Bulkhead.MaxConcurrent, zero.Bulkhead.MaxConcurrent)
}

func TestRouterConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Router.Strategy = "round_robin"
	cfg.Router.MaxTargets = 3
	cfg.Scoring.MaxQueueReference = 20

	rc := routerConfigFrom(cfg)
	assert.Equal(t, router.StrategyRoundRobin, rc.Strategy)
	assert.Equal(t, 3, rc.MaxTargets)
	assert.Equal(t, 20, rc.Scoring.MaxQueueReference)
}

func TestApp_UnknownBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Type = "carrier_pigeon"
	_, err := newApp(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown transport type")

	cfg = config.DefaultConfig()
	cfg.Repository.Type = "tape"
	_, err = newApp(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown repository type")
}
