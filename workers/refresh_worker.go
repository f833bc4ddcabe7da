// workers/refresh_worker.go
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ledger-explorer/ledger"
	"ledger-explorer/metrics"
	"ledger-explorer/mirror"

	"go.uber.org/zap"
)

// ErrRefreshInFlight is returned by RunOnce when the worker is already busy.
var ErrRefreshInFlight = errors.New("refresh already in flight")

type State int32

const (
	StateIdle State = iota
	StateFetching
	StateApplying
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	case StateBackoff:
		return "backoff"
	}
	return "unknown"
}

// ApplyFunc writes fetched data into the mirror and reports how many
// entities it stored.
type ApplyFunc func() (int, error)

// Refresher pulls one entity class from the ledger. Fetch may return a
// non-nil ApplyFunc together with an error when part of the batch arrived
// before the failure; that part is applied before backing off.
type Refresher interface {
	Class() string
	Fetch(ctx context.Context) (ApplyFunc, error)
}

// Backoff doubles from Initial up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before retry number attempt (starting at 1).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// WorkerStatus is a point-in-time view of a worker for the status endpoint.
type WorkerStatus struct {
	Class       string    `json:"class"`
	State       string    `json:"state"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Failures    int       `json:"consecutive_failures"`
}

// RefreshWorker runs a Refresher through Idle -> Fetching -> (Applying |
// Backoff) -> Idle. At most one cycle runs at a time.
type RefreshWorker struct {
	refresher Refresher
	backoff   Backoff
	logger    *zap.Logger
	metrics   *metrics.Metrics

	state atomic.Int32

	mu     sync.Mutex
	status WorkerStatus
}

func NewRefreshWorker(r Refresher, backoff Backoff, logger *zap.Logger, m *metrics.Metrics) *RefreshWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff.Initial <= 0 {
		backoff.Initial = time.Second
	}
	if backoff.Max < backoff.Initial {
		backoff.Max = backoff.Initial
	}
	return &RefreshWorker{
		refresher: r,
		backoff:   backoff,
		logger:    logger.Named("refresh").With(zap.String("class", r.Class())),
		metrics:   m,
		status:    WorkerStatus{Class: r.Class()},
	}
}

func (w *RefreshWorker) Class() string { return w.refresher.Class() }

func (w *RefreshWorker) State() State { return State(w.state.Load()) }

func (w *RefreshWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.status
	st.State = w.State().String()
	return st
}

// RunOnce performs one refresh cycle. Transport failures are retried with
// backoff until the cycle succeeds or ctx is done; consistency violations
// abort the cycle and return the worker to Idle.
func (w *RefreshWorker) RunOnce(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateFetching)) {
		return ErrRefreshInFlight
	}
	defer w.state.Store(int32(StateIdle))

	for attempt := 1; ; attempt++ {
		start := time.Now()
		w.state.Store(int32(StateFetching))

		n, err := w.cycle(ctx)
		w.observe(time.Since(start), err)
		if err == nil {
			w.record(nil)
			if n > 0 {
				w.logger.Debug("refresh applied", zap.Int("entities", n))
			}
			return nil
		}
		w.record(err)

		if !ledger.IsTransport(err) || ctx.Err() != nil {
			w.logFailure(err)
			return err
		}

		delay := w.backoff.Delay(attempt)
		w.state.Store(int32(StateBackoff))
		w.logger.Warn("refresh failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *RefreshWorker) cycle(ctx context.Context) (int, error) {
	apply, fetchErr := w.refresher.Fetch(ctx)
	if apply == nil {
		return 0, fetchErr
	}
	if ctx.Err() != nil {
		// cancelled requests never write half-fetched data
		return 0, ctx.Err()
	}

	w.state.Store(int32(StateApplying))
	n, err := apply()
	if err != nil {
		return n, err
	}
	return n, fetchErr
}

func (w *RefreshWorker) logFailure(err error) {
	switch {
	case inconsistent(err):
		w.logger.Error("refresh aborted: mirror would become inconsistent", zap.Error(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		w.logger.Debug("refresh cancelled", zap.Error(err))
	default:
		w.logger.Warn("refresh aborted", zap.Error(err))
	}
}

func (w *RefreshWorker) record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		w.status.LastSuccess = time.Now().UTC()
		w.status.LastError = ""
		w.status.Failures = 0
		return
	}
	w.status.LastError = err.Error()
	w.status.Failures++
}

func (w *RefreshWorker) observe(took time.Duration, err error) {
	if w.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case inconsistent(err):
		result = "inconsistent"
		w.metrics.WatermarkAlert.Inc()
	case ledger.IsTransport(err):
		result = "transport"
	default:
		result = "error"
	}
	w.metrics.RefreshRuns.WithLabelValues(w.Class(), result).Inc()
	w.metrics.RefreshDuration.WithLabelValues(w.Class()).Observe(took.Seconds())
}

func inconsistent(err error) bool {
	return errors.Is(err, mirror.ErrNonMonotonicWatermark) ||
		errors.Is(err, mirror.ErrBlockGap) ||
		errors.Is(err, mirror.ErrBlockConflict)
}
