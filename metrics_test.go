package latentbo

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveIteration(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.observeIteration(0.75, 0.8, 10)
	m.observeIteration(math.NaN(), 0.4, 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.iterations))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.bestObjective))
	assert.Equal(t, 0.4, testutil.ToFloat64(m.trustRegionLength))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.datasetSize))

	// A nil collector set is a no-op.
	var none *Metrics
	none.observeIteration(1, 1, 1)
}
