// Package dispatch runs describe jobs on a bounded pool of workers fed
// by an unbounded FIFO queue. Jobs that find no available inference
// host are put back on the queue after a delay, up to a waiting
// ceiling, so a briefly dead host pool does not fail work permanently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/immich-tools/describer/internal/config"
	"github.com/immich-tools/describer/internal/describe"
	"github.com/immich-tools/describer/pkg/models"
)

var (
	// ErrWaitExpired marks a job that waited the full queue wait
	// timeout without any host becoming available.
	ErrWaitExpired = errors.New("no host became available in time")

	// ErrShutdown marks a job that was still queued, or waiting for a
	// retry, when the dispatcher shut down. Every such job reaches its
	// done callback with this error; none are dropped silently.
	ErrShutdown = errors.New("dispatcher shut down before the job could run")
)

// Processor handles a single job end to end.
type Processor interface {
	Process(ctx context.Context, job *models.Job) error
}

// DoneFunc is called once per job when it reaches a terminal outcome.
// err is nil on success; requeued jobs are not terminal.
type DoneFunc func(job *models.Job, err error)

// Dispatcher owns the job queue and the worker goroutines.
type Dispatcher struct {
	proc        Processor
	onDone      DoneFunc
	concurrency int
	retryDelay  time.Duration
	waitTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time

	in   chan *models.Job
	work chan *models.Job

	mu     sync.Mutex
	closed bool

	workers sync.WaitGroup
	pending sync.WaitGroup
}

// New builds a Dispatcher. onDone may be nil.
func New(proc Processor, cfg config.DispatchConfig, onDone DoneFunc, log *slog.Logger) *Dispatcher {
	if onDone == nil {
		onDone = func(*models.Job, error) {}
	}
	return &Dispatcher{
		proc:        proc,
		onDone:      onDone,
		concurrency: cfg.MaxConcurrent,
		retryDelay:  cfg.RetryDelay,
		waitTimeout: cfg.QueueWaitTimeout,
		log:         log,
		now:         time.Now,
		in:          make(chan *models.Job),
		work:        make(chan *models.Job),
	}
}

// Start spawns the queue pump and the worker pool. It returns
// immediately; workers run until Close or ctx cancellation.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info("starting dispatcher", "concurrency", d.concurrency)

	go d.pump()
	for i := 0; i < d.concurrency; i++ {
		d.workers.Add(1)
		go d.workerLoop(ctx, i)
	}
}

// Enqueue adds a job to the back of the queue. Jobs enqueued after
// Close are rejected with ErrShutdown via the done callback.
func (d *Dispatcher) Enqueue(job *models.Job) {
	d.pending.Add(1)
	if !d.send(job) {
		d.finish(job, ErrShutdown)
	}
}

// Wait blocks until every enqueued job has reached a terminal
// outcome, including jobs parked for a delayed retry.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Close stops intake, lets queued jobs drain, and waits for the
// workers to exit. Safe to call once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.in)
	d.mu.Unlock()

	d.workers.Wait()
	d.log.Info("dispatcher stopped")
}

// send delivers a job to the pump unless intake is closed.
func (d *Dispatcher) send(job *models.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.in <- job
	return true
}

// pump shuttles jobs from intake to the workers through an in-memory
// FIFO backlog, so Enqueue never blocks on slow workers.
func (d *Dispatcher) pump() {
	var backlog []*models.Job
	for {
		var out chan *models.Job
		var next *models.Job
		if len(backlog) > 0 {
			out = d.work
			next = backlog[0]
		}

		select {
		case job, ok := <-d.in:
			if !ok {
				for _, j := range backlog {
					d.work <- j
				}
				close(d.work)
				return
			}
			backlog = append(backlog, job)
		case out <- next:
			backlog = backlog[1:]
		}
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, num int) {
	defer d.workers.Done()

	for {
		select {
		case <-ctx.Done():
			d.log.Debug("worker stopping", "worker", num, "reason", "context canceled")
			d.failRemaining()
			return
		case job, ok := <-d.work:
			if !ok {
				return
			}
			d.handle(ctx, num, job)
		}
	}
}

// failRemaining keeps consuming the work channel after cancellation so
// the pump can flush its backlog and exit, routing every still-queued
// job through its done callback instead of dropping it. It returns
// when Close has closed the channel.
func (d *Dispatcher) failRemaining() {
	for job := range d.work {
		d.log.Warn("job abandoned by shutdown", "asset_id", job.Asset.ID, "origin", job.Origin)
		d.finish(job, ErrShutdown)
	}
}

func (d *Dispatcher) handle(ctx context.Context, num int, job *models.Job) {
	err := d.proc.Process(ctx, job)
	if err == nil {
		d.finish(job, nil)
		return
	}

	if !errors.Is(err, describe.ErrNoHostAvailable) {
		d.finish(job, err)
		return
	}

	// Every host is sitting out its unavailability window. Park the
	// job and try again later, unless it has already waited too long.
	if job.FirstWait.IsZero() {
		job.FirstWait = d.now()
	}
	waited := d.now().Sub(job.FirstWait)
	if waited >= d.waitTimeout {
		d.finish(job, fmt.Errorf("%w: waited %s", ErrWaitExpired, waited.Round(time.Second)))
		return
	}

	d.log.Warn("no host available, delaying job",
		"worker", num,
		"asset_id", job.Asset.ID,
		"waited", waited.Round(time.Second),
		"retry_in", d.retryDelay,
	)
	time.AfterFunc(d.retryDelay, func() {
		if !d.send(job) {
			d.finish(job, ErrShutdown)
		}
	})
}

func (d *Dispatcher) finish(job *models.Job, err error) {
	d.onDone(job, err)
	d.pending.Done()
}
