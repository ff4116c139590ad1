package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default Prometheus registry. Services mount it at
// /metrics; metric structs register through promauto.
func Handler() http.Handler {
	return promhttp.Handler()
}
