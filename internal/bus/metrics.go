package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var busPublishes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "yapping_bus_publishes_total",
	Help: "Notifications published onto chat topics, local and remote.",
})
