package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Pricing.CachePath = filepath.Join(dir, "pricing_cache.json")
	cfg.History.Path = filepath.Join(dir, "feedback.jsonl")
	cfg.Pricing.Calibrate = false
	cfg.Scan.RetryBase = time.Millisecond
	cfg.Scan.RetryMax = time.Millisecond
	return cfg
}

func TestBuildRunsDemoScan(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg, Options{Logger: telemetry.Discard(), Now: func() time.Time { return now }, Demo: true})
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{model.ProviderAWS, model.ProviderAzure, model.ProviderGCP, model.ProviderKubernetes, model.ProviderMock},
		a.Registry.Providers())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	id, err := a.Engine.StartScan(ctx, []model.CloudAccount{DemoAccount()}, model.ScanOptions{})
	require.NoError(t, err)
	job, err := a.Engine.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, job.Status, "errors: %v", job.Errors)

	r, err := a.Engine.Result(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, r.Recommendations)

	entries, err := a.Store.ListAudit(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "store doubles as the audit sink")

	require.NoError(t, a.Close())
	_, err = os.Stat(cfg.Pricing.CachePath)
	assert.NoError(t, err, "price cache is saved on close")
}

func TestBuildRejectsBadRulesFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: broken\n    condition: \"cost >\"\n    confidence: 0.5\n"), 0o600))
	cfg.Heuristics.Architecture.RulesFile = path

	_, err := Build(context.Background(), cfg, Options{Logger: telemetry.Discard()})
	assert.Error(t, err)
}

func TestAccounts(t *testing.T) {
	cfg := config.Default()
	cfg.Accounts = []config.AccountConfig{
		{ID: "111", Provider: "aws", Credential: "prod", Regions: []string{"us-east-1"}},
		{ID: "sub-1", Provider: "azure", Regions: []string{"eastus"}},
	}

	all := Accounts(cfg)
	require.Len(t, all, 2)
	assert.Equal(t, "prod", all[0].Credential.Value())
	assert.Equal(t, "[REDACTED]", all[0].Credential.String())

	only := Accounts(cfg, "azure")
	require.Len(t, only, 1)
	assert.Equal(t, "sub-1", only[0].ID)
}
