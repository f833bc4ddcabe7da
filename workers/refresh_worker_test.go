package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger-explorer/ledger/ledgertest"
	"ledger-explorer/metrics"
	"ledger-explorer/mirror"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond}

func newBlockWorker(t *testing.T, l *ledgertest.Ledger, m *mirror.Mirror, x *metrics.Metrics) *RefreshWorker {
	t.Helper()
	r := &BlockRefresher{Ledger: l, Mirror: m, BatchSize: 50}
	return NewRefreshWorker(r, fastBackoff, zaptest.NewLogger(t), x)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRefreshWorker_BlocksInBatches(t *testing.T) {
	l := ledgertest.New()
	l.AppendBlocks(120, 2)
	m := mirror.New(mirror.Options{})
	w := newBlockWorker(t, l, m, nil)

	for _, want := range []uint64{50, 100, 120, 120} {
		require.NoError(t, w.RunOnce(context.Background()))
		assert.Equal(t, want, m.Watermark())
	}

	tx, ok := m.Transaction(ledgertest.TxHash(120, 1))
	require.True(t, ok)
	assert.Equal(t, uint64(120), tx.BlockHeight)
	assert.Equal(t, StateIdle, w.State())
}

func TestRefreshWorker_BacksOffOnTransportErrors(t *testing.T) {
	l := ledgertest.New()
	l.AppendBlocks(10, 1)
	l.FailNext("fetch block", 2)
	m := mirror.New(mirror.Options{})
	x := metrics.New(m)
	w := newBlockWorker(t, l, m, x)

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, uint64(10), m.Watermark())
	assert.Equal(t, 2.0, testutil.ToFloat64(x.RefreshRuns.WithLabelValues("blocks", "transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(x.RefreshRuns.WithLabelValues("blocks", "ok")))

	st := w.Status()
	assert.Equal(t, "idle", st.State)
	assert.Zero(t, st.Failures)
	assert.False(t, st.LastSuccess.IsZero())
}

func TestRefreshWorker_PartialBatchIsApplied(t *testing.T) {
	l := ledgertest.New()
	l.AppendBlocks(10, 1)
	m := mirror.New(mirror.Options{})

	fetches := 0
	l.Hook = func(op string) {
		if op == "fetch block" {
			fetches++
			if fetches == 4 {
				l.FailNext("fetch block", 1)
			}
		}
	}

	r := &BlockRefresher{Ledger: l, Mirror: m, BatchSize: 50}
	apply, err := r.Fetch(context.Background())
	require.Error(t, err)
	require.NotNil(t, apply)

	n, applyErr := apply()
	require.NoError(t, applyErr)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(3), m.Watermark())
}

func TestRefreshWorker_RollbackAbortsWithoutRetry(t *testing.T) {
	ahead := ledgertest.New()
	ahead.AppendBlocks(5, 0)
	m := mirror.New(mirror.Options{})
	x := metrics.New(m)
	require.NoError(t, newBlockWorker(t, ahead, m, x).RunOnce(context.Background()))

	behind := ledgertest.New()
	behind.AppendBlocks(3, 0)
	w := newBlockWorker(t, behind, m, x)

	err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mirror.ErrNonMonotonicWatermark))
	assert.Equal(t, 1, behind.Calls("current height"), "consistency errors are not retried")
	assert.Equal(t, 1.0, testutil.ToFloat64(x.WatermarkAlert))
	assert.Equal(t, uint64(5), m.Watermark(), "mirror keeps serving what it had")
	assert.Equal(t, StateIdle, w.State())
	assert.Equal(t, 1, w.Status().Failures)
}

func TestRefreshWorker_SingleFlight(t *testing.T) {
	l := ledgertest.New()
	l.AppendBlocks(3, 0)
	m := mirror.New(mirror.Options{})
	w := newBlockWorker(t, l, m, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	l.Hook = func(op string) {
		if op == "current height" {
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() { done <- w.RunOnce(context.Background()) }()
	<-entered

	assert.Equal(t, StateFetching, w.State())
	assert.ErrorIs(t, w.RunOnce(context.Background()), ErrRefreshInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(3), m.Watermark())
}

func TestRefreshWorker_CancelDuringBackoff(t *testing.T) {
	l := ledgertest.New()
	l.AppendBlocks(3, 0)
	l.FailNext("*", 1000)
	m := mirror.New(mirror.Options{})
	r := &BlockRefresher{Ledger: l, Mirror: m}
	w := NewRefreshWorker(r, Backoff{Initial: time.Hour, Max: time.Hour}, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.RunOnce(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, w.State())
	assert.Zero(t, m.Watermark())
}
