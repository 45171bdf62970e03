package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/version"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	scanOpts.mock, scanOpts.providers, scanOpts.regions = false, nil, nil
	scanOpts.validateBilling, scanOpts.output, scanOpts.watch = false, "table", false
	scanOpts.tolerance = 0
	scanCmd.Flags().Lookup("tolerance").Changed = false

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)
}

func TestPermissionsKubernetes(t *testing.T) {
	out, err := run(t, "permissions", "--provider", "kubernetes")
	require.NoError(t, err)
	assert.Contains(t, out, `"ClusterRole"`)
	assert.Contains(t, out, `"pods"`)
	assert.NotContains(t, out, `"delete"`)
}

func TestScanMockJSON(t *testing.T) {
	out, err := run(t, "scan", "--mock", "-o", "json")
	require.NoError(t, err)

	var r model.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.NotEmpty(t, r.Recommendations)
	assert.False(t, r.Partial)
}

func TestScanMockTable(t *testing.T) {
	out, err := run(t, "scan", "--mock")
	require.NoError(t, err)
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "Savings/mo")
	assert.Contains(t, out, "Total")
}

func TestScanWithoutAccounts(t *testing.T) {
	_, err := run(t, "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no accounts configured")
}

func TestScanRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, "scan", "--mock", "-o", "xml")
	assert.Error(t, err)
}

func TestScanToleranceFlag(t *testing.T) {
	_, err := run(t, "scan", "--mock", "--validate-billing", "--tolerance", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tolerance must be within")

	out, err := run(t, "scan", "--mock", "--validate-billing", "--tolerance", "0", "-o", "json")
	require.NoError(t, err)
	var r model.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.NotEmpty(t, r.CostLineItems)
}

func TestRenderTotalCountsEachResourceOnce(t *testing.T) {
	var buf bytes.Buffer
	renderRecommendations(&buf, model.ScanResult{Recommendations: []model.OptimizationRecommendation{
		{Category: model.RecWaste, Action: "Stop", ResourceIDs: []string{"vm"}, EstimatedMonthlySavings: 100},
		{Category: model.RecRightsizing, Action: "Resize", ResourceIDs: []string{"vm"}, EstimatedMonthlySavings: 50},
		{Category: model.RecReservation, Action: "Reserve", ResourceIDs: []string{"vm"}, EstimatedMonthlySavings: 30},
	}})
	assert.Contains(t, buf.String(), "$100.00")
	assert.NotContains(t, buf.String(), "$180.00")
}

func TestRenderRecommendationsOrdersBySavings(t *testing.T) {
	var buf bytes.Buffer
	renderRecommendations(&buf, model.ScanResult{Recommendations: []model.OptimizationRecommendation{
		{Category: "idle", Action: "Stop", ResourceIDs: []string{"small"}, EstimatedMonthlySavings: 5, Risk: model.RiskLow},
		{Category: "rightsizing", Action: "Resize", ResourceIDs: []string{"big", "big-2"}, EstimatedMonthlySavings: 50, Risk: model.RiskHigh},
	}})
	out := buf.String()
	assert.Less(t, strings.Index(out, "big (+1)"), strings.Index(out, "small"))
	assert.Contains(t, out, "$55.00")
}
