package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewMetrics_DuplicateRegistrationIsQuiet(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(prev)

	registry := prometheus.NewRegistry()
	newMetrics(registry)
	// Registering the same collectors twice is an AlreadyRegisteredError and
	// stays silent.
	newMetrics(registry)

	assert.Zero(t, logs.Len())
}

func TestNewMetrics_ConflictingRegistrationIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(prev)

	registry := prometheus.NewRegistry()
	// Same name, different shape: registration must fail loudly, not silently.
	require.NoError(t, registry.Register(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statedge_http_requests_total",
		Help: "conflicting collector",
	})))

	newMetrics(registry)

	entries := logs.FilterMessage("metric registration failed").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.IncQuotaDecision("free", QuotaOutcomeAllowed)
	m.IncCacheHit("search")
	m.IncCacheMiss("search")
	m.IncBudgetDenied("manual_collection")
	m.IncChunkOutcome("statcast", ChunkOutcomeSuccess)
	m.AddRecordsIngested("statcast", 10)
}
