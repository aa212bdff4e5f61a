package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sitekeeper"

// Metrics holds all SiteKeeper metric instruments.
type Metrics struct {
	JobsSynced         metric.Int64Counter
	SyncErrors         metric.Int64Counter
	JobsTimedOut       metric.Int64Counter
	Refunds            metric.Int64Counter
	RefundAmount       metric.Int64Counter
	DirectoryRefreshes metric.Int64Counter
	PassDuration       metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.JobsSynced, err = meter.Int64Counter("sitekeeper.jobs.synced",
		metric.WithDescription("Status checks performed by the sync loop"))
	if err != nil {
		return nil, err
	}

	m.SyncErrors, err = meter.Int64Counter("sitekeeper.jobs.sync_errors",
		metric.WithDescription("Per-job reconciliation failures"))
	if err != nil {
		return nil, err
	}

	m.JobsTimedOut, err = meter.Int64Counter("sitekeeper.jobs.timed_out",
		metric.WithDescription("Jobs failed by the timeout loop"))
	if err != nil {
		return nil, err
	}

	m.Refunds, err = meter.Int64Counter("sitekeeper.refunds",
		metric.WithDescription("Refund ledger entries written"))
	if err != nil {
		return nil, err
	}

	m.RefundAmount, err = meter.Int64Counter("sitekeeper.refunds.amount",
		metric.WithDescription("Credits refunded"))
	if err != nil {
		return nil, err
	}

	m.DirectoryRefreshes, err = meter.Int64Counter("sitekeeper.tenants.refreshes",
		metric.WithDescription("Tenant directory refreshes"))
	if err != nil {
		return nil, err
	}

	m.PassDuration, err = meter.Float64Histogram("sitekeeper.reconcile.pass_duration_seconds",
		metric.WithDescription("Reconciliation pass duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
