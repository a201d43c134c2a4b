// Package batch implements the bounded batching processor that sits between
// telemetry producers and an exporter.
//
// Producers hand finished records to OnEnd, which never blocks: records go
// into a bounded queue or are dropped and counted. A single logical worker,
// run as a repeating task on a schedule.Scheduler, moves records from the
// queue into a batch and exports it when the batch is full or the schedule
// delay has passed. Every export is bounded by ExporterTimeout.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szibis/telemetry-shipper/internal/completion"
	"github.com/szibis/telemetry-shipper/internal/logging"
	"github.com/szibis/telemetry-shipper/internal/schedule"
)

var (
	// ErrExportTimeout fails an export whose exporter did not answer within
	// ExporterTimeout.
	ErrExportTimeout = errors.New("batch: export timed out")
	// ErrShutdownTimeout fails a shutdown whose exporter did not shut down
	// within ExporterTimeout.
	ErrShutdownTimeout = errors.New("batch: exporter shutdown timed out")
)

// Exporter turns a batch into wire traffic. Export must not block until the
// network result is known; it reports the outcome through the returned
// signal. The ctx passed to Export is cancelled when the export times out.
type Exporter[T any] interface {
	Export(ctx context.Context, records []T) *completion.Signal
	Shutdown(ctx context.Context) *completion.Signal
}

const (
	stateRunning int32 = iota
	stateShuttingDown
	stateShutDown
)

// Option configures a Processor.
type Option[T any] func(*options[T])

type options[T any] struct {
	name      string
	scheduler schedule.Scheduler
	filter    func(T) bool
}

// WithName sets the processor name used in metrics and log entries.
func WithName[T any](name string) Option[T] {
	return func(o *options[T]) { o.name = name }
}

// WithScheduler runs the worker on a shared scheduler. The processor does not
// stop a scheduler it was given. A flush blocks its worker run until the
// export timeout task has fired, so the scheduler must be able to run that
// task concurrently and must outlive the processor.
func WithScheduler[T any](s schedule.Scheduler) Option[T] {
	return func(o *options[T]) { o.scheduler = s }
}

// WithFilter drops records for which keep returns false before they reach
// the queue. Dropped-by-filter records are not counted.
func WithFilter[T any](keep func(T) bool) Option[T] {
	return func(o *options[T]) { o.filter = keep }
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	Queued          uint64
	Dropped         uint64
	ExportedBatches uint64
	ExportedRecords uint64
	FailedBatches   uint64
	FailedRecords   uint64
	Timeouts        uint64
	QueueLength     int
}

// Processor batches records of type T and hands the batches to an Exporter.
type Processor[T any] struct {
	name          string
	cfg           Config
	exporter      Exporter[T]
	sched         schedule.Scheduler
	ownsScheduler bool
	filter        func(T) bool
	metrics       processorMetrics

	queue chan T
	state atomic.Int32
	// producers counts OnEnd calls between their running check and their
	// enqueue. Shutdown waits for it to reach zero before the final flush.
	producers atomic.Int64

	// workMu is held for the duration of one worker run and during the
	// shutdown flush. deadline and lastExport belong to its holder. batch
	// does too while inflight is false. Setting inflight hands batch to the
	// export: the exporter's callback or the timeout task, on whatever
	// goroutine it runs, clears batch and then stores false, which hands it
	// back. The holder of workMu never touches batch while inflight is true.
	workMu     sync.Mutex
	batch      []T
	deadline   time.Time
	lastExport *completion.Signal
	inflight   atomic.Bool

	mu          sync.Mutex
	next        schedule.Handle
	flushReq    *completion.Signal
	shutdownSig *completion.Signal

	queued          atomic.Uint64
	dropped         atomic.Uint64
	exportedBatches atomic.Uint64
	exportedRecords atomic.Uint64
	failedBatches   atomic.Uint64
	failedRecords   atomic.Uint64
	timeouts        atomic.Uint64
}

// New creates a processor and schedules its first worker run.
func New[T any](exporter Exporter[T], cfg Config, opts ...Option[T]) (*Processor[T], error) {
	if exporter == nil {
		return nil, errors.New("batch: exporter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("batch: invalid config: %w", err)
	}

	o := options[T]{name: "default"}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Processor[T]{
		name:     o.name,
		cfg:      cfg,
		exporter: exporter,
		sched:    o.scheduler,
		filter:   o.filter,
		metrics:  newProcessorMetrics(o.name),
		queue:    make(chan T, cfg.MaxQueueSize),
		batch:    make([]T, 0, cfg.MaxExportBatchSize),
	}
	if p.sched == nil {
		p.sched = schedule.New()
		p.ownsScheduler = true
	}
	p.deadline = p.sched.Now().Add(cfg.ScheduleDelay)

	p.mu.Lock()
	p.next = p.sched.Schedule(p.run, cfg.PollInterval)
	p.mu.Unlock()

	logging.Info("batch processor started", logging.F(
		"processor", p.name,
		"max_queue_size", cfg.MaxQueueSize,
		"max_export_batch_size", cfg.MaxExportBatchSize,
		"schedule_delay", cfg.ScheduleDelay.String(),
		"exporter_timeout", cfg.ExporterTimeout.String(),
	))
	return p, nil
}

// Name returns the processor name.
func (p *Processor[T]) Name() string { return p.name }

// Running reports whether the processor accepts records.
func (p *Processor[T]) Running() bool { return p.state.Load() == stateRunning }

// OnEnd offers a finished record. It never blocks: when the queue is full the
// record is dropped and counted. Records are ignored once shutdown has begun.
func (p *Processor[T]) OnEnd(rec T) {
	if p.filter != nil && !p.filter(rec) {
		return
	}
	if p.state.Load() != stateRunning {
		return
	}
	p.producers.Add(1)
	defer p.producers.Add(-1)
	if p.state.Load() != stateRunning {
		return
	}
	select {
	case p.queue <- rec:
		p.queued.Add(1)
		p.metrics.queued.Inc()
	default:
		p.dropped.Add(1)
		p.metrics.dropped.Inc()
	}
}

// run is one worker pass. It is always invoked by the scheduler.
func (p *Processor[T]) run() {
	p.workMu.Lock()
	defer p.workMu.Unlock()

	if p.state.Load() != stateRunning {
		return
	}

	p.mu.Lock()
	req := p.flushReq
	p.flushReq = nil
	p.next = nil
	p.mu.Unlock()

	if req != nil {
		forward(p.flushAll(len(p.queue)), req)
	} else {
		p.drain()
	}
	p.metrics.queueLen.Set(float64(len(p.queue)))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Load() != stateRunning {
		return
	}
	delay := p.cfg.PollInterval
	if p.flushReq != nil {
		delay = 0
	}
	p.next = p.sched.Schedule(p.run, delay)
}

// drain tops the batch up from the queue and exports when it is full or the
// deadline has passed. It returns when nothing is left to export or an export
// is outstanding. A deadline that passes while the batch is empty is moved
// forward, so the first records after an idle period get the full delay.
func (p *Processor[T]) drain() {
	for {
		if p.inflight.Load() {
			return
		}
	fill:
		for len(p.batch) < p.cfg.MaxExportBatchSize {
			select {
			case rec := <-p.queue:
				p.batch = append(p.batch, rec)
			default:
				break fill
			}
		}

		now := p.sched.Now()
		if len(p.batch) == 0 {
			if !now.Before(p.deadline) {
				p.deadline = now.Add(p.cfg.ScheduleDelay)
			}
			return
		}
		if len(p.batch) < p.cfg.MaxExportBatchSize && now.Before(p.deadline) {
			return
		}
		p.exportCurrentBatch()
		p.deadline = p.sched.Now().Add(p.cfg.ScheduleDelay)
	}
}

// exportCurrentBatch hands a copy of the batch to the exporter and races the
// exporter's signal against a timeout task. Whichever claims first counts the
// outcome, releases the batch and resolves the returned signal.
func (p *Processor[T]) exportCurrentBatch() *completion.Signal {
	if len(p.batch) == 0 {
		return completion.Succeeded()
	}

	records := slices.Clone(p.batch)
	n := len(records)
	out := completion.New()
	p.lastExport = out
	p.inflight.Store(true)
	p.metrics.size.Observe(float64(n))

	ctx, cancel := context.WithCancel(context.Background())
	start := p.sched.Now()
	var claimed atomic.Bool

	timeout := p.sched.Schedule(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		cancel()
		p.timeouts.Add(1)
		p.failedBatches.Add(1)
		p.failedRecords.Add(uint64(n))
		p.metrics.timeout.Inc()
		p.metrics.duration.Observe(p.sched.Now().Sub(start).Seconds())
		logging.Warn("batch export timed out", logging.F(
			"processor", p.name,
			"records", n,
			"timeout", p.cfg.ExporterTimeout.String(),
		))
		p.releaseBatch()
		out.FailWithError(ErrExportTimeout)
	}, p.cfg.ExporterTimeout)

	result := p.exporter.Export(ctx, records)
	if result == nil {
		result = completion.Failed(errors.New("batch: exporter returned no signal"))
	}
	result.WhenComplete(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		timeout.Cancel()
		cancel()
		p.metrics.duration.Observe(p.sched.Now().Sub(start).Seconds())
		if result.IsSuccess() {
			p.exportedBatches.Add(1)
			p.exportedRecords.Add(uint64(n))
			p.metrics.success.Inc()
			p.metrics.exported.Add(float64(n))
		} else {
			p.failedBatches.Add(1)
			p.failedRecords.Add(uint64(n))
			p.metrics.failure.Inc()
			logging.Warn("batch export failed", logging.F(
				"processor", p.name,
				"records", n,
				"error", errString(result.Err()),
			))
		}
		p.releaseBatch()
		forward(result, out)
	})
	return out
}

func (p *Processor[T]) releaseBatch() {
	clear(p.batch)
	p.batch = p.batch[:0]
	p.inflight.Store(false)
}

// flushAll waits for an outstanding export, then exports the batch and up to
// pending queued records, in full sub-batches followed by the remainder. Each
// sub-batch is exported after the previous one resolved. The caller holds
// workMu.
func (p *Processor[T]) flushAll(pending int) *completion.Signal {
	awaitExport(p.lastExport)

	var results []*completion.Signal
	exportAndWait := func() {
		sig := p.exportCurrentBatch()
		results = append(results, sig)
		awaitExport(sig)
	}

drain:
	for ; pending > 0; pending-- {
		select {
		case rec := <-p.queue:
			p.batch = append(p.batch, rec)
		default:
			break drain
		}
		if len(p.batch) >= p.cfg.MaxExportBatchSize {
			exportAndWait()
		}
	}
	if len(p.batch) > 0 {
		exportAndWait()
	}
	p.deadline = p.sched.Now().Add(p.cfg.ScheduleDelay)
	return completion.OfAll(results...)
}

// awaitExport blocks until sig is terminal. The exporter's callback or the
// timeout task resolves every export signal, so the wait is bounded by
// ExporterTimeout and the batch is released when it returns.
func awaitExport(sig *completion.Signal) {
	if sig != nil {
		<-sig.Done()
	}
}

// ForceFlush exports everything queued at the time the worker picks the
// request up. Concurrent requests share one signal until the worker takes
// it; later requests are served by the next run. An idle worker is woken
// immediately.
func (p *Processor[T]) ForceFlush() *completion.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.Load() {
	case stateShuttingDown:
		return p.shutdownSig
	case stateShutDown:
		return completion.Succeeded()
	}

	if p.flushReq != nil {
		return p.flushReq
	}
	req := completion.New()
	p.flushReq = req
	if p.next != nil && p.next.Cancel() {
		p.next = p.sched.Schedule(p.run, 0)
	}
	return req
}

// Shutdown stops the worker, flushes everything still queued or batched,
// shuts the exporter down and releases an owned scheduler. It is idempotent:
// every call returns the same signal.
func (p *Processor[T]) Shutdown() *completion.Signal {
	p.mu.Lock()
	if p.shutdownSig != nil {
		sig := p.shutdownSig
		p.mu.Unlock()
		return sig
	}
	sig := completion.New()
	p.shutdownSig = sig
	p.state.Store(stateShuttingDown)
	if p.next != nil {
		p.next.Cancel()
		p.next = nil
	}
	p.mu.Unlock()

	go p.finish(sig)
	return sig
}

func (p *Processor[T]) finish(sig *completion.Signal) {
	// Every record accepted by OnEnd is in the queue once this returns.
	for p.producers.Load() > 0 {
		runtime.Gosched()
	}

	p.workMu.Lock()
	p.mu.Lock()
	req := p.flushReq
	p.flushReq = nil
	p.mu.Unlock()
	flushed := p.flushAll(len(p.queue))
	p.workMu.Unlock()

	if req != nil {
		forward(flushed, req)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExporterTimeout)
	exporterDone := p.exporter.Shutdown(ctx)
	if exporterDone == nil {
		exporterDone = completion.Succeeded()
	}
	exporterDone.Join(p.cfg.ExporterTimeout)
	cancel()
	if !exporterDone.IsDone() {
		exporterDone = completion.Failed(ErrShutdownTimeout)
	}

	p.state.Store(stateShutDown)
	// No export is outstanding here: flushAll returned only after every
	// export signal was resolved.
	if p.ownsScheduler {
		p.sched.Stop()
	}
	p.metrics.queueLen.Set(0)

	s := p.Stats()
	logging.Info("batch processor shut down", logging.F(
		"processor", p.name,
		"exported_records", s.ExportedRecords,
		"failed_records", s.FailedRecords,
		"dropped", s.Dropped,
	))

	forward(completion.OfAll(flushed, exporterDone), sig)
}

// Stats returns a snapshot of the processor counters.
func (p *Processor[T]) Stats() Stats {
	return Stats{
		Queued:          p.queued.Load(),
		Dropped:         p.dropped.Load(),
		ExportedBatches: p.exportedBatches.Load(),
		ExportedRecords: p.exportedRecords.Load(),
		FailedBatches:   p.failedBatches.Load(),
		FailedRecords:   p.failedRecords.Load(),
		Timeouts:        p.timeouts.Load(),
		QueueLength:     len(p.queue),
	}
}

// forward resolves dst with the outcome of src once src is terminal.
func forward(src, dst *completion.Signal) {
	src.WhenComplete(func() {
		if src.IsSuccess() {
			dst.Succeed()
			return
		}
		dst.FailWithError(src.Err())
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
