package trainer

import (
	"github.com/prometheus/client_golang/prometheus"

	"glayoutd/pkg/types"
)

var (
	trainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glayoutd",
			Subsystem: "trainer",
			Name:      "runs_total",
			Help:      "Total number of fine-tuning runs",
		},
		[]string{"family", "outcome"},
	)

	trainingEpochsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glayoutd",
			Subsystem: "trainer",
			Name:      "epochs_total",
			Help:      "Total number of completed training epochs",
		},
		[]string{"family"},
	)
)

func init() {
	prometheus.MustRegister(trainingRunsTotal, trainingEpochsTotal)
}

func observeRun(f types.Family, epochsRun int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	trainingRunsTotal.WithLabelValues(string(f), outcome).Inc()
	if epochsRun > 0 {
		trainingEpochsTotal.WithLabelValues(string(f)).Add(float64(epochsRun))
	}
}
