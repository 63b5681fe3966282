package latentbo

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes run counters and gauges. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	oracleCalls       *prometheus.CounterVec
	filtered          *prometheus.CounterVec
	iterations        prometheus.Counter
	restarts          prometheus.Counter
	surrogateFailures prometheus.Counter
	bestObjective     prometheus.Gauge
	trustRegionLength prometheus.Gauge
	datasetSize       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latentbo",
			Name:      "oracle_calls_total",
			Help:      "Oracle invocations by oracle id and outcome.",
		}, []string{"oracle", "outcome"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latentbo",
			Name:      "candidates_filtered_total",
			Help:      "Proposals dropped before any oracle call, by reason.",
		}, []string{"reason"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "latentbo",
			Name:      "iterations_total",
			Help:      "Completed optimization iterations.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "latentbo",
			Name:      "trust_region_restarts_total",
			Help:      "Trust region collapses handled by restarting.",
		}),
		surrogateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "latentbo",
			Name:      "surrogate_fit_failures_total",
			Help:      "Surrogate refits that kept the previous model.",
		}),
		bestObjective: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "latentbo",
			Name:      "best_objective",
			Help:      "Objective of the incumbent candidate.",
		}),
		trustRegionLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "latentbo",
			Name:      "trust_region_length",
			Help:      "Current trust region edge length.",
		}),
		datasetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "latentbo",
			Name:      "dataset_size",
			Help:      "Number of candidates recorded.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.oracleCalls, m.filtered, m.iterations, m.restarts, m.surrogateFailures,
		m.bestObjective, m.trustRegionLength, m.datasetSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeOracleCall(oracle string, err error) {
	if m == nil {
		return
	}

	outcome := "scored"
	if err != nil {
		outcome = "unscored"
	}

	m.oracleCalls.WithLabelValues(oracle, outcome).Inc()
}

func (m *Metrics) observeFiltered(reason string) {
	if m == nil {
		return
	}

	m.filtered.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeIteration(best float64, length float64, size int) {
	if m == nil {
		return
	}

	m.iterations.Inc()

	if finite(best) {
		m.bestObjective.Set(best)
	}

	m.trustRegionLength.Set(length)
	m.datasetSize.Set(float64(size))
}

func (m *Metrics) observeRestart() {
	if m == nil {
		return
	}

	m.restarts.Inc()
}

func (m *Metrics) observeSurrogateFailure() {
	if m == nil {
		return
	}

	m.surrogateFailures.Inc()
}
