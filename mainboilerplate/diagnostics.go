package mainboilerplate

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.jsonbdoc.dev/core/metrics"
)

// DiagnosticsConfig configures pull-based application metrics.
type DiagnosticsConfig struct {
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" description:"Address (eg :9090) at which to serve Prometheus metrics at /debug/metrics. Not served if empty"`
}

// InitDiagnostics registers store collectors and, if configured, serves
// them over HTTP for the lifetime of the process.
func InitDiagnostics(cfg DiagnosticsConfig) {
	var reg = prometheus.NewRegistry()
	reg.MustRegister(metrics.StoreCollectors()...)

	if cfg.MetricsAddr == "" {
		return
	}
	var mux = http.NewServeMux()
	mux.Handle("/debug/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		var err = http.ListenAndServe(cfg.MetricsAddr, mux)
		log.WithFields(log.Fields{"err": err, "addr": cfg.MetricsAddr}).Warn("metrics server exited")
	}()
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
