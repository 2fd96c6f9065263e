package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	router "github.com/parbhatia/gospace-sub000/internal/adapters/http"
	"github.com/parbhatia/gospace-sub000/internal/adapters/memory"
	"github.com/parbhatia/gospace-sub000/internal/adapters/rtc"
	"github.com/parbhatia/gospace-sub000/internal/adapters/signal"
	"github.com/parbhatia/gospace-sub000/internal/app"
	"github.com/parbhatia/gospace-sub000/internal/app/orch"
	"github.com/parbhatia/gospace-sub000/internal/config"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
)

func newApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			newPrometheus,
			newMetrics,
			newEngine,
			newWorkerPool,
			newPolicy,
			newHub,
			newSessionRegistry,
			newOrchestrator,
			newJoinLimiter,
			newSignalServer,
			newHTTPHandler,
		),
		fx.Invoke(runHTTPServer),
	)
}

func newPrometheus() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newEngine(cfg *config.Config) core.Engine {
	if cfg.Engine == "memory" {
		log.Warn().Str("module", "main").Msg("using in-memory media engine, no media will flow")
		return memory.NewEngine()
	}
	return rtc.NewEngine(rtc.Options{
		ICEServers: cfg.WebRTC.ICEServers,
		NAT1To1IPs: cfg.WebRTC.NAT1To1IPs,
		Codecs:     cfg.Codecs(),
	})
}

func newWorkerPool(lc fx.Lifecycle, cfg *config.Config, engine core.Engine, m *metrics.Metrics) (*app.WorkerPool, error) {
	policy, err := app.ParseSelectPolicy(cfg.Workers.Policy)
	if err != nil {
		return nil, err
	}
	pool, err := app.NewWorkerPool(context.Background(), engine, app.PoolOptions{
		Count:  cfg.Workers.Count,
		Policy: policy,
		Settings: core.WorkerSettings{
			RTCMinPort: cfg.WebRTC.UDPPortMin,
			RTCMaxPort: cfg.WebRTC.UDPPortMax,
			LogLevel:   cfg.LogLevel,
		},
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(pool.Close))
	return pool, nil
}

func newPolicy(cfg *config.Config) (app.Policy, error) {
	return app.ParsePolicy(cfg.Signal.Backpressure)
}

func newHub(policy app.Policy, m *metrics.Metrics) *signal.Hub {
	return signal.NewHub(policy, m)
}

func newSessionRegistry(lc fx.Lifecycle, cfg *config.Config, pool *app.WorkerPool, hub *signal.Hub, m *metrics.Metrics) *app.SessionRegistry {
	registry := app.NewSessionRegistry(pool, hub, app.RegistryOptions{
		Codecs:    cfg.Codecs(),
		ReapEmpty: cfg.Room.ReapEmpty,
		Metrics:   m,
	})
	m.ObservePeers(registry.PeerCount)
	lc.Append(fx.StopHook(registry.Close))
	return registry
}

func newOrchestrator(cfg *config.Config, registry *app.SessionRegistry) *orch.Orchestrator {
	return orch.New(registry, cfg.WebRTC.EnableSctp)
}

func newJoinLimiter(cfg *config.Config) *signal.JoinRateLimiter {
	return signal.NewJoinRateLimiter(cfg.Signal.JoinLimit, cfg.Signal.JoinInterval)
}

func newSignalServer(cfg *config.Config, o *orch.Orchestrator, hub *signal.Hub, limiter *signal.JoinRateLimiter, m *metrics.Metrics) *signal.Server {
	return signal.NewServer(o, hub, limiter, m, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.Signal.SendBuffer,
	})
}

type handlerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Orch      *orch.Orchestrator
	Signal    *signal.Server
	Pool      *app.WorkerPool
	Registry  *prometheus.Registry
}

// newHTTPHandler builds the gin router. Websocket sessions outlive the
// request context, so they get a context cancelled on shutdown.
func newHTTPHandler(p handlerParams) *gin.Engine {
	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.StopHook(cancel))
	return router.SetupRouter(ctx, router.Deps{
		Config:   p.Config,
		Orch:     p.Orch,
		Signal:   p.Signal,
		Pool:     p.Pool,
		Gatherer: p.Registry,
	})
}

func runHTTPServer(lc fx.Lifecycle, cfg *config.Config, handler *gin.Engine) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				log.Info().Str("addr", addr).Msg("gospace server started")
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("server error")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Shutting down")
			if err := srv.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("Server forced to shutdown")
				return err
			}
			log.Info().Msg("Server exited gracefully")
			return nil
		},
	})
}
