// Package orchestrator ties the scanner, the folder monitor and the
// dispatcher together and keeps the run statistics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/immich-tools/describer/internal/config"
	"github.com/immich-tools/describer/internal/dispatch"
	"github.com/immich-tools/describer/internal/locale"
	"github.com/immich-tools/describer/internal/monitor"
	"github.com/immich-tools/describer/internal/scanner"
	"github.com/immich-tools/describer/internal/store"
	"github.com/immich-tools/describer/pkg/models"
)

type Orchestrator struct {
	cfg   *config.Config
	store store.Store
	log   *slog.Logger
	out   io.Writer

	dispatcher *dispatch.Dispatcher
	scanner    *scanner.Scanner
	monitor    *monitor.Monitor
	inflight   *inflightSet

	successful atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
}

// New wires the pipeline around the given describe processor. out
// receives the operator-facing banners and the batch summary.
func New(cfg *config.Config, st store.Store, proc dispatch.Processor, log *slog.Logger, out io.Writer) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		log:      log,
		out:      out,
		inflight: newInflightSet(),
	}
	o.dispatcher = dispatch.New(proc, cfg.Dispatch, o.jobDone, log)
	o.scanner = scanner.New(st, o, cfg.Ollama.Prompt, cfg.Library.IgnoreExisting, log)
	o.monitor = monitor.New(cfg.Library.Root, o, cfg.Ollama.Prompt, cfg.Monitor, log)
	return o
}

// Enqueue gates jobs into the dispatcher. Duplicate assets are
// dropped, and watch jobs for assets that already carry a description
// are skipped unless existing descriptions are being overwritten.
func (o *Orchestrator) Enqueue(job *models.Job) {
	if !o.inflight.TryAdd(job.Asset.ID) {
		o.log.Debug("asset already in flight, dropping duplicate",
			"asset_id", job.Asset.ID, "origin", job.Origin)
		o.skipped.Add(1)
		return
	}

	if job.Origin == models.OriginWatch && !o.cfg.Library.IgnoreExisting {
		has, err := o.store.HasDescription(context.Background(), job.Asset.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			o.log.Error("description lookup failed",
				"asset_id", job.Asset.ID, "error", err)
			o.inflight.Remove(job.Asset.ID)
			o.failed.Add(1)
			return
		}
		if has {
			o.log.Debug("asset already described, skipping", "asset_id", job.Asset.ID)
			o.inflight.Remove(job.Asset.ID)
			o.skipped.Add(1)
			return
		}
	}

	o.dispatcher.Enqueue(job)
}

// jobDone is the dispatcher's terminal callback.
func (o *Orchestrator) jobDone(job *models.Job, err error) {
	o.inflight.Remove(job.Asset.ID)
	if err == nil {
		o.successful.Add(1)
		return
	}
	o.failed.Add(1)
	o.log.Error("job failed",
		"asset_id", job.Asset.ID,
		"origin", job.Origin,
		"attempts", job.Attempts,
		"error", err,
	)
}

// RunBatch processes every asset that needs a description, waits for
// the queue to drain and prints the summary.
func (o *Orchestrator) RunBatch(ctx context.Context) error {
	if o.cfg.Library.IgnoreExisting {
		fmt.Fprintln(o.out, o.t(locale.IgnoreExistingOn))
	}

	o.dispatcher.Start(ctx)
	defer o.dispatcher.Close()

	_, skipped, err := o.scanner.Run(ctx)
	if err != nil {
		return err
	}
	o.skipped.Add(int64(skipped))

	o.waitForDrain(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	fmt.Fprintln(o.out, o.t(locale.BatchCompleted))
	o.printSummary()
	return nil
}

// RunMonitor watches the thumbnail tree until ctx is canceled.
func (o *Orchestrator) RunMonitor(ctx context.Context) error {
	fmt.Fprintln(o.out, o.t(locale.MonitorStarted))
	fmt.Fprintln(o.out, o.t(locale.StopInstructions))

	o.dispatcher.Start(ctx)
	defer o.dispatcher.Close()

	if err := o.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	o.printSummary()
	return nil
}

// RunCombined runs the batch scan and the folder monitor against the
// shared dispatcher at the same time, so previews written while the
// backlog drains are picked up immediately. The monitor keeps running
// after the batch summary until ctx is canceled.
func (o *Orchestrator) RunCombined(ctx context.Context) error {
	fmt.Fprintln(o.out, o.t(locale.CombinedStarted))
	if o.cfg.Library.IgnoreExisting {
		fmt.Fprintln(o.out, o.t(locale.IgnoreExistingOn))
	}
	fmt.Fprintln(o.out, o.t(locale.StopInstructions))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.dispatcher.Start(ctx)
	defer o.dispatcher.Close()

	monErr := make(chan error, 1)
	go func() {
		monErr <- o.monitor.Run(ctx)
	}()

	_, skipped, err := o.scanner.Run(ctx)
	if err != nil {
		return err
	}
	o.skipped.Add(int64(skipped))

	o.waitForDrain(ctx)
	if ctx.Err() == nil {
		fmt.Fprintln(o.out, o.t(locale.BatchCompleted))
		o.printSummary()
	}

	if err := <-monErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	o.printSummary()
	return nil
}

// waitForDrain blocks until every enqueued job has finished or the
// context is canceled.
func (o *Orchestrator) waitForDrain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		o.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) printSummary() {
	successful := o.successful.Load()
	failed := o.failed.Load()
	skipped := o.skipped.Load()

	fmt.Fprintln(o.out, o.t(locale.Statistics))
	fmt.Fprintln(o.out, o.t(locale.Successful, successful))
	if failed > 0 {
		fmt.Fprintln(o.out, o.t(locale.Failed, failed))
	}
	if skipped > 0 {
		fmt.Fprintln(o.out, o.t(locale.Skipped, skipped))
	}
	fmt.Fprintln(o.out, o.t(locale.TotalProcessed, successful+failed+skipped))
	if failed > 0 {
		fmt.Fprintln(o.out, o.t(locale.FailureSuggestion))
	}
}

func (o *Orchestrator) t(key string, args ...any) string {
	return locale.T(o.cfg.Lang, key, args...)
}
