package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder collects bot-level metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	turns          *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	dialogOutcomes *prometheus.CounterVec
	directoryCalls *prometheus.CounterVec
	stateOps       *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookupbot_turns_total",
				Help: "Turns processed, by activity category and dialog status.",
			},
			[]string{"category", "status"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookupbot_turn_duration_seconds",
				Help:    "Wall time of a turn, including state load and save.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		dialogOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookupbot_dialog_outcomes_total",
				Help: "Terminal outcomes of the lookup dialog.",
			},
			[]string{"outcome"},
		),
		directoryCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookupbot_directory_requests_total",
				Help: "Directory listing requests, by result.",
			},
			[]string{"result"},
		),
		stateOps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookupbot_state_op_duration_seconds",
				Help:    "State store latency, by operation.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op"},
		),
	}

	for _, c := range []prometheus.Collector{r.turns, r.turnDuration, r.dialogOutcomes, r.directoryCalls, r.stateOps} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func MustNew(reg prometheus.Registerer) *Recorder {
	r, err := New(reg)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Recorder) ObserveTurn(category, status string, took time.Duration) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(category, status).Inc()
	r.turnDuration.WithLabelValues(category).Observe(took.Seconds())
}

func (r *Recorder) DialogOutcome(outcome string) {
	if r == nil {
		return
	}
	r.dialogOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) DirectoryRequest(result string) {
	if r == nil {
		return
	}
	r.directoryCalls.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveStateOp(op string, took time.Duration) {
	if r == nil {
		return
	}
	r.stateOps.WithLabelValues(op).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
