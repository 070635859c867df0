package exporter

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// fastResponseWriter adapts a fasthttp request context to the
// http.ResponseWriter promhttp expects.
type fastResponseWriter struct {
	ctx        *fasthttp.RequestCtx
	statusCode int
}

func newFastResponseWriter(ctx *fasthttp.RequestCtx) *fastResponseWriter {
	return &fastResponseWriter{
		ctx:        ctx,
		statusCode: http.StatusOK,
	}
}

func (frw *fastResponseWriter) Header() http.Header {
	header := make(http.Header)
	frw.ctx.Response.Header.VisitAll(func(key, value []byte) {
		header.Set(string(key), string(value))
	})
	return header
}

func (frw *fastResponseWriter) Write(data []byte) (int, error) {
	return frw.ctx.Write(data)
}

func (frw *fastResponseWriter) WriteHeader(statusCode int) {
	frw.statusCode = statusCode
	frw.ctx.SetStatusCode(statusCode)
}

// metricsServer serves the registry over fasthttp on a dedicated listener.
type metricsServer struct {
	logger   types.Logger
	addr     string
	path     string
	registry *prometheus.Registry
	server   *fasthttp.Server
	started  int32
	errCh    chan error
}

func newMetricsServer(logger types.Logger, config *types.MetricsHTTPConfig, registry *prometheus.Registry) *metricsServer {
	path := config.Path
	if path == "" {
		path = "/metrics"
	}

	return &metricsServer{
		logger:   logger,
		addr:     metricsAddr(config),
		path:     path,
		registry: registry,
		errCh:    make(chan error, 1),
	}
}

func (s *metricsServer) start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrAlreadyRunning
	}

	promHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})

	s.server = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != s.path {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}

			ctx.SetContentType("text/plain; version=0.0.4; charset=utf-8")
			req, err := http.NewRequest(http.MethodGet, string(ctx.RequestURI()), nil)
			if err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				return
			}
			promHandler.ServeHTTP(newFastResponseWriter(ctx), req)
		},
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(s.addr); err != nil {
			s.errCh <- err
		}
	}()

	// A bad listen address fails almost immediately; surface that to the
	// caller instead of logging it from a goroutine.
	select {
	case err := <-s.errCh:
		atomic.StoreInt32(&s.started, 0)
		return types.WrapError(err, "failed to start metrics endpoint")
	case <-time.After(100 * time.Millisecond):
	}

	s.logger.Info("Metrics endpoint started",
		zap.String("addr", s.addr),
		zap.String("path", s.path))

	return nil
}

func (s *metricsServer) stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return nil
	}

	if err := s.server.Shutdown(); err != nil {
		return types.WrapError(err, "failed to stop metrics endpoint")
	}

	s.logger.Info("Metrics endpoint stopped", zap.String("addr", s.addr))
	return nil
}
