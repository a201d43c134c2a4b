package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/telemetry-shipper/internal/batch"
	"github.com/szibis/telemetry-shipper/internal/completion"
	"github.com/szibis/telemetry-shipper/internal/config"
	"github.com/szibis/telemetry-shipper/internal/exporter"
	"github.com/szibis/telemetry-shipper/internal/health"
	"github.com/szibis/telemetry-shipper/internal/loadgen"
	"github.com/szibis/telemetry-shipper/internal/logging"
	"github.com/szibis/telemetry-shipper/internal/record"
	"github.com/szibis/telemetry-shipper/internal/schedule"
	"github.com/szibis/telemetry-shipper/internal/sender"
	"github.com/szibis/telemetry-shipper/internal/telemetry"
	"github.com/szibis/telemetry-shipper/internal/tracing"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		os.Exit(2)
	}
	if cfg.ShowHelp {
		config.PrintUsage(os.Stdout)
		return
	}
	if cfg.ShowVersion {
		config.PrintVersion(os.Stdout)
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		logging.Fatal("invalid log level", logging.F("error", err.Error()))
	}
	logging.SetLevel(level)
	logging.SetResource(map[string]string{
		"service.name":    cfg.ServiceName,
		"service.version": config.Version(),
	})

	if err := run(cfg); err != nil {
		logging.Fatal("telemetry-shipper failed", logging.F("error", err.Error()))
	}
}

// pipeline is one signal's sender, exporter and batch processor.
type pipeline[T any] struct {
	exporter  *exporter.Exporter[T]
	processor *batch.Processor[T]
}

func newPipeline[T any](
	cfg *config.Config,
	signal config.Signal,
	newExporter func(exporter.Config, sender.Sender) (*exporter.Exporter[T], error),
	batchCfg batch.Config,
	sched schedule.Scheduler,
	keep func(T) bool,
) (*pipeline[T], error) {
	snd, err := sender.New(cfg.SenderConfig(signal))
	if err != nil {
		return nil, fmt.Errorf("%s sender: %w", signal, err)
	}
	exp, err := newExporter(cfg.ExporterConfig(signal), snd)
	if err != nil {
		_ = snd.Close()
		return nil, fmt.Errorf("%s exporter: %w", signal, err)
	}
	proc, err := batch.New[T](exp, batchCfg,
		batch.WithName[T](string(signal)),
		batch.WithScheduler[T](sched),
		batch.WithFilter(keep),
	)
	if err != nil {
		exp.Shutdown(context.Background())
		return nil, fmt.Errorf("%s processor: %w", signal, err)
	}
	return &pipeline[T]{exporter: exp, processor: proc}, nil
}

func (p *pipeline[T]) register(checker *health.Checker, name string) {
	checker.RegisterProcessor(p.processor)
	if cb := p.exporter.Breaker(); cb != nil {
		checker.RegisterCircuit(name, func() bool { return cb.State() == exporter.CircuitOpen })
	}
}

func run(cfg *config.Config) error {
	applyMemoryLimit(cfg.MemoryLimitRatio)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), cfg.Resource(), config.Version())
	if err != nil {
		return fmt.Errorf("self-telemetry: %w", err)
	}
	if hook := tel.NewLogHook(); hook != nil {
		logging.SetHook(hook)
	}

	sched := schedule.New()
	defer sched.Stop()

	spans, err := newPipeline(cfg, config.SignalTraces, exporter.NewSpans, cfg.SpanBatchConfig(), sched, record.Span.Sampled)
	if err != nil {
		return err
	}
	logs, err := newPipeline(cfg, config.SignalLogs, exporter.NewLogs, cfg.LogBatchConfig(), sched, record.LogRecord.Sampled)
	if err != nil {
		spans.processor.Shutdown()
		return err
	}

	checker := health.New()
	spans.register(checker, string(config.SignalTraces))
	logs.register(checker, string(config.SignalLogs))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", checker.LiveHandler())
	mux.HandleFunc("/ready", checker.ReadyHandler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.LoadEnabled {
		tracer := tracing.NewTracer(telemetry.ScopeName, spans.processor,
			tracing.WithVersion(config.Version()),
			tracing.WithSampler(cfg.Sampler()),
		)
		logger := tracing.NewLogger(telemetry.ScopeName, logs.processor,
			tracing.WithVersion(config.Version()),
		)
		gen, err := loadgen.New(cfg.LoadConfig(), tracer, logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			lctx := gctx
			if cfg.LoadDuration > 0 {
				var cancel context.CancelFunc
				lctx, cancel = context.WithTimeout(gctx, cfg.LoadDuration)
				defer cancel()
			}
			return gen.Run(lctx)
		})
	}

	logging.Info("telemetry-shipper started", logging.F(
		"version", config.Version(),
		"listen", cfg.ListenAddr,
		"endpoint", cfg.ExporterEndpoint,
		"protocol", cfg.ExporterProtocol,
		"load", cfg.LoadEnabled,
		"self_telemetry", tel.Enabled(),
	))

	<-gctx.Done()
	logging.Info("shutting down", logging.F("timeout", cfg.ShutdownTimeout.String()))
	checker.SetShuttingDown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("http server shutdown", logging.F("error", err.Error()))
	}
	runErr := g.Wait()

	drained := completion.OfAll(spans.processor.Shutdown(), logs.processor.Shutdown())
	if err := drained.Wait(shutdownCtx); err != nil {
		logging.Warn("processors did not drain cleanly", logging.F("error", err.Error()))
	}

	telCtx, telCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
	defer telCancel()
	logging.SetHook(nil)
	if err := tel.Shutdown(telCtx); err != nil {
		logging.Warn("self-telemetry shutdown", logging.F("error", err.Error()))
	}

	logging.Info("telemetry-shipper stopped")
	return runErr
}
