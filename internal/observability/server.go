package observability

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/logging"
)

var serverOnce sync.Once

// StartMetricsServer exposes /metrics on the given port in the
// background. Safe to call more than once; only the first call starts a
// listener.
func StartMetricsServer(port int) {
	serverOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logging.WithField("port", port).Info("serving metrics")

			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.WithError(err).Warnf("metrics server stopped")
			}
		}()
	})
}
