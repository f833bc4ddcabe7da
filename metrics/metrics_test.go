package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"ledger-explorer/mirror"
	"ledger-explorer/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_MirrorGaugesFollowState(t *testing.T) {
	m := mirror.New(mirror.Options{})
	x := New(m)

	require.NoError(t, m.ApplyBlock(models.BlockRecord{Height: 1, Hash: "a"}, nil))
	require.NoError(t, m.AdvanceWatermark(1))
	m.PutDomain(models.DomainRecord{ID: "wonderland"}, 1)

	rec := httptest.NewRecorder()
	x.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "explorer_mirror_watermark 1")
	assert.Contains(t, string(body), "explorer_mirror_domains 1")
}

func TestMetrics_Counters(t *testing.T) {
	x := New(nil)

	x.RefreshRuns.WithLabelValues("blocks", "ok").Inc()
	x.RefreshRuns.WithLabelValues("blocks", "ok").Inc()
	x.WatermarkAlert.Inc()
	x.ObserveRequest("GET", "/api/v1/blocks", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(x.RefreshRuns.WithLabelValues("blocks", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(x.WatermarkAlert))
	assert.Equal(t, 1.0, testutil.ToFloat64(x.HTTPRequests.WithLabelValues("GET", "/api/v1/blocks", "200")))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(nil), New(nil)
	a.WatermarkAlert.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.WatermarkAlert))
}
