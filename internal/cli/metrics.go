package cli

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/thalesfsp/latentbo"
)

// metricsServer exposes run metrics in the Prometheus text format on
// /metrics.
type metricsServer struct {
	srv *fasthttp.Server
	ln  net.Listener
}

// startMetrics registers the run collectors on a fresh registry and serves
// them on addr until stop is called.
func startMetrics(addr string, log *logrus.Entry) (*latentbo.Metrics, *metricsServer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := latentbo.NewMetrics(reg)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s := &metricsServer{
		ln: ln,
		srv: &fasthttp.Server{
			Name: "latentbo",
			Handler: func(ctx *fasthttp.RequestCtx) {
				if string(ctx.Path()) != "/metrics" {
					ctx.Error("not found", fasthttp.StatusNotFound)

					return
				}

				metrics(ctx)
			},
		},
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil {
			log.WithError(err).Warn("Metrics server stopped")
		}
	}()

	log.WithField("addr", ln.Addr().String()).Info("Serving metrics")

	return m, s, nil
}

// Addr returns the listening address.
func (s *metricsServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *metricsServer) stop() error {
	return s.srv.Shutdown()
}
