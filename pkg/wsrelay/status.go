package wsrelay

import (
	"net/http"

	"github.com/jpillora/requestlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	wrshare "github.com/sammck-go/wsrelay/share"
)

// NewStatusHandler returns the handler for plain HTTP requests on the local
// listener: /health, /version and, if gatherer is not nil, /metrics. Anything
// else is 404. Requests are logged when the logger is at debug level.
func NewStatusHandler(logger wrshare.Logger, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK\n"))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(wrshare.BuildVersion))
	})
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	h := http.Handler(mux)
	if logger.GetLogLevel() >= wrshare.LogLevelDebug {
		h = requestlog.Wrap(h)
	}
	return h
}
