package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name   string
	status Status
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(_ context.Context) Result {
	return Result{Status: s.status, Message: "stub", Latency: time.Millisecond}
}

func TestGatesBlockReadinessUntilOpen(t *testing.T) {
	agg := New()
	db := agg.Gate("database")
	broker := agg.Gate("broker")

	// 启动中：门闸未开，不就绪
	assert.False(t, agg.GatesOpen())
	assert.False(t, agg.Ready(context.Background()))
	assert.Equal(t, StatusUnhealthy, agg.Overall(context.Background()))

	db.Open()
	assert.False(t, agg.GatesOpen())

	broker.Open()
	assert.True(t, agg.GatesOpen())
	assert.True(t, agg.Ready(context.Background()))
}

func TestGateCloseRevokesReadiness(t *testing.T) {
	agg := New()
	g := agg.Gate("broker")
	g.Open()
	require.True(t, agg.Ready(context.Background()))

	g.Close()
	assert.False(t, agg.Ready(context.Background()))
}

func TestOverallPropagatesWorstChecker(t *testing.T) {
	agg := New()
	agg.Register(&stubChecker{"postgres", StatusHealthy})
	agg.Register(&stubChecker{"redis", StatusDegraded})
	assert.Equal(t, StatusDegraded, agg.Overall(context.Background()))
	// 降级仍就绪
	assert.True(t, agg.Ready(context.Background()))

	agg.Register(&stubChecker{"broker", StatusUnhealthy})
	assert.Equal(t, StatusUnhealthy, agg.Overall(context.Background()))
	assert.False(t, agg.Ready(context.Background()))
}

func TestCheckAllCollectsEveryChecker(t *testing.T) {
	agg := New()
	agg.Register(&stubChecker{"postgres", StatusHealthy})
	agg.Register(&stubChecker{"redis", StatusHealthy})
	agg.Register(&stubChecker{"broker", StatusHealthy})

	results := agg.CheckAll(context.Background())
	require.Len(t, results, 3)
	for name, r := range results {
		assert.Equal(t, StatusHealthy, r.Status, name)
	}
}

func TestSnapshotReportsGatesAndChecks(t *testing.T) {
	agg := New()
	g := agg.Gate("database")
	agg.Register(&stubChecker{"postgres", StatusHealthy})

	report := agg.Snapshot(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, map[string]bool{"database": false}, report.Gates)

	g.Open()
	report = agg.Snapshot(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.Gates["database"])
	require.Contains(t, report.Checks, "postgres")
}
