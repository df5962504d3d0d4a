package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetricsCollector()

	m.IncrementCounter(MetricEntriesAppended, 1)
	m.IncrementCounter(MetricEntriesAppended, 2)
	m.SetGauge(MetricSubscribers, 4)

	assert.Equal(t, int64(3), m.GetCounter(MetricEntriesAppended))
	assert.Equal(t, float64(4), m.GetGauge(MetricSubscribers))
	assert.Equal(t, int64(0), m.GetCounter("unknown"))
}

func TestTimers(t *testing.T) {
	m := NewMetricsCollector()
	assert.Equal(t, time.Duration(0), m.GetTimerAverage(MetricHTTPResponseTime))

	for i := 1; i <= 20; i++ {
		m.RecordTimer(MetricHTTPResponseTime, time.Duration(i)*time.Millisecond)
	}

	assert.Equal(t, 10500*time.Microsecond, m.GetTimerAverage(MetricHTTPResponseTime))
	assert.Equal(t, 20*time.Millisecond, m.GetTimerP95(MetricHTTPResponseTime))
}

func TestTimerSamplesAreBounded(t *testing.T) {
	m := NewMetricsCollector()
	for i := 0; i < maxTimerSamples+50; i++ {
		m.RecordTimer("t", time.Millisecond)
	}
	assert.Equal(t, maxTimerSamples, m.Snapshot().Timers["t"].Count)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewMetricsCollector()
	m.IncrementCounter(MetricBroadcasts, 1)

	snap := m.Snapshot()
	m.IncrementCounter(MetricBroadcasts, 1)

	assert.Equal(t, int64(1), snap.Counters[MetricBroadcasts])
	assert.Equal(t, int64(2), m.GetCounter(MetricBroadcasts))
}

func TestReportAndReset(t *testing.T) {
	m := NewMetricsCollector()
	m.IncrementCounter(MetricContextsCreated, 1)
	m.RecordTimer(MetricHTTPResponseTime, time.Millisecond)
	m.RecordTimestamp(MetricLastEntryAppended)

	report := m.GetReport()
	require.Contains(t, report, MetricContextsCreated+": 1")
	assert.Contains(t, report, MetricHTTPResponseTime)
	assert.Contains(t, report, MetricLastEntryAppended)
	assert.Greater(t, m.GetTimeSince(MetricLastEntryAppended), time.Duration(-1))

	m.Reset()
	assert.Equal(t, int64(0), m.GetCounter(MetricContextsCreated))
	assert.Equal(t, time.Duration(0), m.GetTimeSince(MetricLastEntryAppended))
}

func TestConcurrentUse(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementCounter(MetricHTTPRequests, 1)
				m.RecordTimer(MetricHTTPResponseTime, time.Microsecond)
				_ = m.GetReport()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1600), m.GetCounter(MetricHTTPRequests))
}
