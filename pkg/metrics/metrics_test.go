package metrics

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/luxfi/dsc/pkg/dsc"
)

func TestEventCounters(t *testing.T) {
	m := New("dsc", log.Root().New("module", "metrics-test"))

	m.Publish(dsc.Event{Type: dsc.EventCollateralDeposited})
	m.Publish(dsc.Event{Type: dsc.EventCollateralDeposited})
	m.Publish(dsc.Event{Type: dsc.EventDSCMinted})
	m.Publish(dsc.Event{Type: dsc.EventLiquidation})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.deposits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mints))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.liquidations))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.burns))
}

func TestFailureCounter(t *testing.T) {
	m := New("dsc", log.Root().New("module", "metrics-test"))

	m.ObserveFailure("health_factor_broken")
	m.ObserveFailure("health_factor_broken")
	m.ObserveFailure("stale_price")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.failedOps.WithLabelValues("health_factor_broken")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failedOps.WithLabelValues("stale_price")))
}

func TestTotalDebtGauge(t *testing.T) {
	m := New("dsc", log.Root().New("module", "metrics-test"))

	debt := new(uint256.Int).Mul(uint256.NewInt(12_500), dsc.Precision)
	m.SetTotalDebt(debt)
	assert.Equal(t, float64(12_500), testutil.ToFloat64(m.totalDebt))
}
