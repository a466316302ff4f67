package txns

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/bellwood-io/rowlock/src/cfg"
)

// Counters is C8's observability surface: the handful of aggregate
// signals spec §4.8 lists (deadlock rate, wait volume and latency,
// outstanding waiters, lock-object churn), wired to OpenTelemetry
// instruments so this package plugs into whatever exporter the host
// process already runs.
type Counters struct {
	deadlocks      metric.Int64Counter
	waitCount      metric.Int64Counter
	waitTime       metric.Float64Histogram
	pendingWaits   metric.Int64UpDownCounter
	reclockCreated metric.Int64Counter
	reclockRemoved metric.Int64Counter

	waitTimeMaxMicros atomic.Int64
	waitGauge         metric.Int64ObservableGauge

	log *zap.SugaredLogger
}

// NewCounters registers every C8 instrument against meter. A nil meter
// falls back to the OpenTelemetry no-op implementation, so callers that
// do not wire a real MeterProvider still get a functioning Counters.
func NewCounters(meter metric.Meter, log *zap.SugaredLogger) (*Counters, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("rowlock")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Counters{log: log}

	var err error
	if c.deadlocks, err = meter.Int64Counter("rowlock.deadlocks",
		metric.WithDescription("deadlock cycles resolved")); err != nil {
		return nil, err
	}
	if c.waitCount, err = meter.Int64Counter("rowlock.wait_count",
		metric.WithDescription("lock waits started")); err != nil {
		return nil, err
	}
	if c.waitTime, err = meter.Float64Histogram("rowlock.wait_time",
		metric.WithDescription("lock wait duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if c.pendingWaits, err = meter.Int64UpDownCounter("rowlock.pending_waits",
		metric.WithDescription("transactions currently suspended on a lock")); err != nil {
		return nil, err
	}
	if c.reclockCreated, err = meter.Int64Counter("rowlock.reclock_created",
		metric.WithDescription("record lock objects allocated")); err != nil {
		return nil, err
	}
	if c.reclockRemoved, err = meter.Int64Counter("rowlock.reclock_removed",
		metric.WithDescription("record lock objects released")); err != nil {
		return nil, err
	}
	c.waitGauge, err = meter.Int64ObservableGauge("rowlock.wait_time_max",
		metric.WithDescription("longest observed lock wait"),
		metric.WithUnit("ms"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(c.waitTimeMaxMicros.Load() / 1000)
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Counters) waitStarted() {
	if c == nil {
		return
	}
	c.waitCount.Add(context.Background(), 1)
	c.pendingWaits.Add(context.Background(), 1)
}

func (c *Counters) waitEnded() {
	if c == nil {
		return
	}
	c.pendingWaits.Add(context.Background(), -1)
}

func (c *Counters) waitFinished(d time.Duration) {
	if c == nil {
		return
	}
	c.waitTime.Record(context.Background(), float64(d.Microseconds())/1000.0)
	for {
		cur := c.waitTimeMaxMicros.Load()
		if d.Microseconds() <= cur || c.waitTimeMaxMicros.CompareAndSwap(cur, d.Microseconds()) {
			break
		}
	}
}

func (c *Counters) recLockCreated() {
	if c == nil {
		return
	}
	c.reclockCreated.Add(context.Background(), 1)
}

func (c *Counters) recLockRemoved() {
	if c == nil {
		return
	}
	c.reclockRemoved.Add(context.Background(), 1)
}

// deadlockResolved records one resolved cycle and, per level, logs it
// at the verbosity the original engine's innodb_deadlock_report knob
// controls: off logs nothing, basic logs the victim and cycle
// membership, full additionally tags the report with a UUID (so
// several transactions observing the same cycle concurrently can
// correlate their log lines) and each cycle member's weight.
func (c *Counters) deadlockResolved(level cfg.DeadlockReportLevel, victim TrxID, cycle []TrxID, weights map[TrxID]uint64) {
	if c == nil {
		return
	}
	c.deadlocks.Add(context.Background(), 1)
	if c.log == nil || level == cfg.DeadlockReportOff {
		return
	}
	if level == cfg.DeadlockReportBasic {
		c.log.Infow("deadlock resolved", "victim", victim, "cycle", cycle)
		return
	}
	c.log.Infow("deadlock resolved",
		"report_id", uuid.NewString(),
		"victim", victim,
		"cycle", cycle,
		"weights", weights,
	)
}

// PrintInfoSummary logs the shape of the lock system the way the
// original engine's INFORMATION_SCHEMA summary does: counts, not
// per-lock detail.
func (ls *LockSys) PrintInfoSummary() {
	ls.mu.Lock()
	trxCount := len(ls.trxs)
	waiting := 0
	for _, t := range ls.trxs {
		if t.IsWaiting() {
			waiting++
		}
	}
	ls.mu.Unlock()

	ls.log.Infow("lock system summary",
		"transactions", trxCount,
		"waiting", waiting,
		"hot_pages", ls.hotPages.Recent())
}

// PrintInfoAllTransactions logs one line per live transaction, mirroring
// the original engine's verbose per-transaction dump.
func (ls *LockSys) PrintInfoAllTransactions() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for id, t := range ls.trxs {
		waitTrx, waiting := t.WaitsFor()
		ls.log.Infow("transaction",
			"id", id,
			"state", t.State,
			"waiting", waiting,
			"wait_trx", waitTrx,
			"weight", t.Weight(),
			"locks", t.locks.Len())
	}
}
