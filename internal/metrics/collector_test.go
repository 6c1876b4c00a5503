package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/evalflow/job"
	"github.com/BaSui01/evalflow/types"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, nil), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/sessions/:id", 200, 100*time.Millisecond, 0, 512)
	c.RecordHTTPRequest("GET", "/api/v1/sessions/:id", 201, 50*time.Millisecond, 0, 128)
	c.RecordHTTPRequest("POST", "/api/v1/sessions", 409, 10*time.Millisecond, 64, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/sessions/:id", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/sessions", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestCollector_RecordJobSettlement(t *testing.T) {
	c, _ := newTestCollector(t)

	var hook job.SettleHook = c.RecordJobSettlement
	hook("simulation.transport", job.StatusSucceeded, time.Second)
	hook("simulation.transport", job.StatusTimeout, 5*time.Minute)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobSettlements.WithLabelValues("simulation.transport", string(job.StatusSucceeded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobSettlements.WithLabelValues("simulation.transport", string(job.StatusTimeout))))
	assert.Equal(t, 1, testutil.CollectAndCount(c.jobDuration))
}

func TestCollector_RecordSimulation(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordSimulation(nil, time.Second)
	c.RecordSimulation(types.NewTimeoutError("simulation timed out"), time.Minute)
	c.RecordSimulation(errors.New("socket closed"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.simulationsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.simulationsTotal.WithLabelValues(string(types.ErrTimeout))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.simulationsTotal.WithLabelValues("error")))
}

func TestCollector_BatchAndSession(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordBatchRun(nil)
	c.RecordBatchRun(errors.New("locked"))
	c.RecordBatchItem(BatchAppended)
	c.RecordBatchItem(BatchAppended)
	c.RecordBatchItem(BatchFailed)
	c.RecordBatchItem(BatchDropped)
	c.RecordSessionStart(types.SessionAwaitingRubricReview)
	c.RecordSessionTransition(types.SessionPending, types.SessionAwaitingRubricReview)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchRunsTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.batchItemsTotal.WithLabelValues("appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchItemsTotal.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionStarts.WithLabelValues("awaiting_rubric_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionTransitions.WithLabelValues("pending", "awaiting_rubric_review")))
}

func TestCollector_CacheAndDB(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCacheHit("session_state")
	c.RecordCacheMiss("session_state")
	c.RecordCacheMiss("session_state")
	c.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("session_state")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("session_state")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 2)
			c.RecordBatchItem(BatchAppended)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.batchItemsTotal.WithLabelValues("appended")))
}

func TestCollector_Registration(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordBatchItem(BatchFailed)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_batch_items_total"])

	// 同一 registry 上重复注册同名指标会 panic
	assert.Panics(t, func() { NewCollector("test", reg, nil) })
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(304))
	assert.Equal(t, "4xx", statusCode(422))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "100", statusCode(100))
}
