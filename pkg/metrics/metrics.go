// Package metrics exposes Prometheus metrics for the DSC engine. It
// implements dsc.EventSink so it can be wired as an event observer.
package metrics

import (
	"net/http"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/luxfi/dsc/pkg/dsc"
)

// Metrics tracks engine activity on a dedicated Prometheus registry.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	deposits     prometheus.Counter
	redemptions  prometheus.Counter
	mints        prometheus.Counter
	burns        prometheus.Counter
	liquidations prometheus.Counter
	failedOps    *prometheus.CounterVec

	totalDebt prometheus.Gauge
}

// New builds a metrics set under the given namespace.
func New(namespace string, logger log.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collateral_deposits_total",
			Help:      "Total number of collateral deposits",
		}),
		redemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collateral_redemptions_total",
			Help:      "Total number of collateral redemptions",
		}),
		mints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dsc_mints_total",
			Help:      "Total number of stablecoin mints",
		}),
		burns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dsc_burns_total",
			Help:      "Total number of stablecoin burns",
		}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Total number of completed liquidations",
		}),
		failedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_operations_total",
			Help:      "Total number of failed operations by reason",
		}, []string{"reason"}),
		totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_debt",
			Help:      "Outstanding stablecoin debt across all accounts",
		}),
	}

	registry.MustRegister(
		m.deposits, m.redemptions, m.mints, m.burns,
		m.liquidations, m.failedOps, m.totalDebt,
	)
	return m
}

// Publish counts a committed engine event.
func (m *Metrics) Publish(ev dsc.Event) {
	switch ev.Type {
	case dsc.EventCollateralDeposited:
		m.deposits.Inc()
	case dsc.EventCollateralRedeemed:
		m.redemptions.Inc()
	case dsc.EventDSCMinted:
		m.mints.Inc()
	case dsc.EventDSCBurned:
		m.burns.Inc()
	case dsc.EventLiquidation:
		m.liquidations.Inc()
	default:
		m.logger.Warn("Unknown event type", "type", string(ev.Type))
	}
}

// ObserveFailure counts a rejected operation by failure reason.
func (m *Metrics) ObserveFailure(reason string) {
	m.failedOps.WithLabelValues(reason).Inc()
}

// SetTotalDebt records the current outstanding debt, in whole stable
// units.
func (m *Metrics) SetTotalDebt(debt *uint256.Int) {
	f, _ := decimal.NewFromBigInt(debt.ToBig(), -18).Float64()
	m.totalDebt.Set(f)
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
