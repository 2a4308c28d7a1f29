package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/skiptrace/internal/api"
	"github.com/sells-group/skiptrace/internal/budget"
	"github.com/sells-group/skiptrace/internal/config"
	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/resilience"
	"github.com/sells-group/skiptrace/internal/runner"
	"github.com/sells-group/skiptrace/internal/store"
)

// fakeProvider answers POST /lookup. Addresses containing "VACANT" get a
// 404 so the chain falls through.
func fakeProvider(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Address string `json:"address"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if strings.Contains(body.Address, "VACANT") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no match"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"phones":[{"number":"(512) 555-0100","type":"mobile","confidence":0.9}],"emails":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// useConfig points the package config at a temp SQLite file and a one
// provider chain.
func useConfig(t *testing.T, providerURL string, capCents int64) {
	t.Helper()
	dir := t.TempDir()

	chain := fmt.Sprintf(`waterfall:
  defaults:
    timeout_ms: 2000
  chain:
    - name: batchdata
      tier: primary
      base_url: %s
      api_key: test
      cost_cents: 40
      max_attempts: 1
`, providerURL)
	chainPath := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(chainPath, []byte(chain), 0o644))

	prev := cfg
	cfg = &config.Config{
		Store:      config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "skiptrace.db")},
		Budget:     config.BudgetConfig{DailyCapCents: capCents, Timezone: "UTC"},
		Runner:     config.RunnerConfig{Concurrency: 2, MaxBatchSize: 100},
		Waterfall:  config.WaterfallConfig{ConfigPath: chainPath},
		Resilience: config.ResilienceConfig{FailureThreshold: 5, ResetTimeoutSecs: 30, MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 2},
		Server:     config.ServerConfig{Port: 8080},
	}
	t.Cleanup(func() { cfg = prev })
}

func seedLeads(t *testing.T, st store.Store, leads ...model.Lead) {
	t.Helper()
	_, err := st.UpsertLeads(context.Background(), leads)
	require.NoError(t, err)
}

func TestInitEngine_TraceAndReport(t *testing.T) {
	var calls atomic.Int32
	useConfig(t, fakeProvider(t, &calls).URL, 0)
	ctx := context.Background()

	env, err := initEngine(ctx, "trace")
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, []string{"batchdata"}, env.Manager.Providers())
	assert.Equal(t, int64(40), env.Manager.MaxLookupCents())

	seedLeads(t, env.Store,
		model.Lead{ID: "L1", Address: "1 Oak Ave, Austin TX"},
		model.Lead{ID: "L2", Address: "Vacant Lot, Austin TX"},
	)

	item, err := env.Manager.TraceLead(ctx, "L1", false)
	require.NoError(t, err)
	assert.Equal(t, model.ItemDone, item.Status)
	require.NotNil(t, item.Result)
	assert.Equal(t, "batchdata", item.Result.ProviderName)
	assert.Equal(t, int64(40), item.CostCents)

	lead, err := env.Store.GetLead(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "5125550100", lead.Phone)

	res, err := env.Manager.Submit(ctx, []string{"L1", "L2"}, runner.SubmitOptions{SourceLabel: "cli-test"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded())
	assert.Zero(t, res.TotalCostCents, "L1 is cached and failed lookups are free")
	assert.Equal(t, int32(2), calls.Load())

	rep, err := env.Reports.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Totals.Total)
	assert.Equal(t, 1, rep.Totals.Cached)

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, rep, "markdown"))
	assert.Contains(t, buf.String(), res.RunID)

	buf.Reset()
	require.NoError(t, writeReport(&buf, rep, "json"))
	assert.Contains(t, buf.String(), `"run_id": "`+res.RunID+`"`)

	err = writeReport(&buf, rep, "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestInitEngine_PreflightRefusesOversizedBatch(t *testing.T) {
	var calls atomic.Int32
	useConfig(t, fakeProvider(t, &calls).URL, 100)
	ctx := context.Background()

	env, err := initEngine(ctx, "trace")
	require.NoError(t, err)
	defer env.Close()

	seedLeads(t, env.Store,
		model.Lead{ID: "L1", Address: "1 Oak Ave"},
		model.Lead{ID: "L2", Address: "2 Oak Ave"},
		model.Lead{ID: "L3", Address: "3 Oak Ave"},
	)

	est, q, err := env.Manager.Preflight(ctx, []string{"L1", "L2", "L3"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
	assert.Equal(t, int64(120), est.EstimatedCents)
	assert.Equal(t, int64(100), q.RemainingCents)
	assert.Zero(t, calls.Load())
}

func TestInitEngine_BadConfig(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", 0)

	cfg.Waterfall.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := initEngine(context.Background(), "trace")
	require.Error(t, err)

	cfg.Runner.Concurrency = 0
	_, err = initEngine(context.Background(), "trace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner.concurrency")

	cfg.Store.Driver = "mysql"
	_, err = initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestBreakerConfig_LogsStateChanges(t *testing.T) {
	useConfig(t, "http://127.0.0.1:1", 0)
	cfg.Resilience.FailureThreshold = 1

	core, logs := observer.New(zapcore.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	bc := breakerConfig()
	assert.Equal(t, 1, bc.FailureThreshold)
	require.NotNil(t, bc.OnStateChange)

	b := resilience.NewBreakers(bc).For("batchdata")
	require.NoError(t, b.Allow())
	b.Record(false)
	require.Equal(t, resilience.Open, b.State())

	entries := logs.FilterMessage("provider circuit state changed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "batchdata", fields["provider"])
	assert.Equal(t, "closed", fields["from"])
	assert.Equal(t, "open", fields["to"])
}

func TestResetRemoteQuota(t *testing.T) {
	var calls atomic.Int32
	useConfig(t, fakeProvider(t, &calls).URL, 40)
	ctx := context.Background()

	env, err := initEngine(ctx, "trace")
	require.NoError(t, err)
	defer env.Close()
	seedLeads(t, env.Store, model.Lead{ID: "L1", Address: "1 Oak Ave"})

	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Store:    env.Store,
		Manager:  env.Manager,
		Reports:  env.Reports,
		Breakers: env.Breakers,
	}))
	defer srv.Close()

	_, err = env.Manager.TraceLead(ctx, "L1", false)
	require.NoError(t, err)
	require.True(t, env.Guard.SoftPaused())

	q, lookups, err := resetRemoteQuota(ctx, srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.False(t, q.SoftPaused)
	assert.False(t, env.Guard.SoftPaused())
	assert.Equal(t, int64(40), q.SpentCents)
	assert.Equal(t, int64(0), q.RemainingCents)
	assert.Equal(t, int64(0), lookups)
}

func TestResetRemoteQuota_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal_error","message":"store down"}`))
	}))
	defer srv.Close()

	_, _, err := resetRemoteQuota(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "store down")

	_, _, err = resetRemoteQuota(context.Background(), srv.Client(), "http://127.0.0.1:1")
	require.Error(t, err)
}
