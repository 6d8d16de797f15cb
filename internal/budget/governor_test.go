package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrust/backend/internal/config"
)

func testConfig(monthly int64) config.BudgetConfig {
	return config.BudgetConfig{MonthlyCU: monthly, WarnFraction: 0.8, StopFraction: 0.9}
}

func TestRecordAccumulatesCost(t *testing.T) {
	g := NewGovernor(testConfig(1_000_000))

	g.Record("eth_getLogs", 2)
	g.Record("eth_blockNumber", 1)

	snap := g.Snapshot()
	assert.Equal(t, int64(2*75+10), snap.Used)
	assert.Equal(t, int64(2), snap.Calls["eth_getLogs"])
	assert.Equal(t, int64(1), snap.Calls["eth_blockNumber"])
	assert.False(t, snap.Stopped)
}

func TestUnknownMethodUsesDefaultCost(t *testing.T) {
	g := NewGovernor(testConfig(1_000_000))
	g.Record("eth_call", 1)
	assert.Equal(t, int64(defaultMethodCost), g.Snapshot().Used)
}

func TestStopFlagAtNinetyPercent(t *testing.T) {
	// Budget 1000: stop at 900. 12 getLogs = 900 CU.
	g := NewGovernor(testConfig(1000))

	g.Record("eth_getLogs", 11)
	require.False(t, g.ShouldStop())

	g.Record("eth_getLogs", 1)
	assert.True(t, g.ShouldStop())
}

func TestStopFlagIsOneWay(t *testing.T) {
	g := NewGovernor(testConfig(100))
	g.Record("eth_getLogs", 2) // 150 CU, well past stop
	require.True(t, g.ShouldStop())

	// Further records never clear it.
	g.Record("eth_blockNumber", 1)
	assert.True(t, g.ShouldStop())
}

func TestResetZeroesEverything(t *testing.T) {
	g := NewGovernor(testConfig(100))
	g.Record("eth_getLogs", 5)
	require.True(t, g.ShouldStop())

	g.Reset()

	snap := g.Snapshot()
	assert.Zero(t, snap.Used)
	assert.Empty(t, snap.Calls)
	assert.False(t, g.ShouldStop())
}
