package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	m := New()
	m.RecordRun("all", false, 2*time.Second)
	m.RecordRun("all", true, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("all", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("all", "error")))
}

func TestRecordTicketOps_SkipsZero(t *testing.T) {
	m := New()
	m.RecordTicketOps("billing", "create", false, 0)
	m.RecordTicketOps("billing", "create", false, 3)
	m.RecordTicketOps("forecast", "delete", true, 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TicketOperationsTotal.WithLabelValues("billing", "create", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicketOperationsTotal.WithLabelValues("forecast", "delete", "true")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun("deal", false, time.Second)
		m.RecordDeal(true, time.Second)
		m.RecordTicketOps("billing", "update", false, 1)
		m.RecordRetry("search")
		m.RecordWebhookEvent("deal.creation", true)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordDeal(false, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "billsync_deals_total")
}
