// Package scanner walks the asset table and queues describe jobs for
// every preview that still needs a description.
package scanner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/immich-tools/describer/internal/store"
	"github.com/immich-tools/describer/pkg/models"
)

// Enqueuer receives the jobs a scan produces.
type Enqueuer interface {
	Enqueue(job *models.Job)
}

type Scanner struct {
	store          store.Store
	queue          Enqueuer
	prompt         string
	ignoreExisting bool
	log            *slog.Logger
}

func New(st store.Store, queue Enqueuer, prompt string, ignoreExisting bool, log *slog.Logger) *Scanner {
	return &Scanner{
		store:          st,
		queue:          queue,
		prompt:         prompt,
		ignoreExisting: ignoreExisting,
		log:            log,
	}
}

// Run streams every live asset with a preview from the database and
// enqueues a job for each one that needs describing. It returns the
// number of jobs enqueued and the number of assets skipped because a
// description already exists. A storage error aborts the scan.
func (s *Scanner) Run(ctx context.Context) (enqueued, skipped int, err error) {
	s.log.Info("scanning asset library", "ignore_existing", s.ignoreExisting)

	err = s.store.ForEachAsset(ctx, func(asset models.Asset) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if asset.HasDescription && !s.ignoreExisting {
			skipped++
			return nil
		}
		s.queue.Enqueue(&models.Job{
			Asset:  asset,
			Prompt: s.prompt,
			Origin: models.OriginScan,
		})
		enqueued++
		return nil
	})
	if err != nil {
		return enqueued, skipped, fmt.Errorf("scanning assets: %w", err)
	}

	s.log.Info("scan complete", "enqueued", enqueued, "skipped", skipped)
	return enqueued, skipped, nil
}
