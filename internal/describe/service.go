// Package describe runs one job to a terminal outcome: it walks the host
// pool, issues inference calls, classifies failures, and persists the
// generated description.
package describe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/immich-tools/describer/internal/hostpool"
	"github.com/immich-tools/describer/internal/ollama"
	"github.com/immich-tools/describer/internal/store"
	"github.com/immich-tools/describer/pkg/models"
)

// Describer issues a single inference call against one host.
type Describer interface {
	Describe(ctx context.Context, host, imagePath, prompt string) (string, error)
}

// Service processes jobs against the host pool and writes results back.
type Service struct {
	pool   *hostpool.Pool
	client Describer
	store  store.Store
	log    *slog.Logger
}

// NewService creates a new Service.
func NewService(pool *hostpool.Pool, client Describer, st store.Store, log *slog.Logger) *Service {
	return &Service{
		pool:   pool,
		client: client,
		store:  st,
		log:    log,
	}
}

// Process runs the job's attempts sequentially across distinct hosts,
// bounded by the number of known hosts. Transient failures mark the host
// unavailable and move on to the next one; permanent failures return
// immediately. On success the description is upserted before returning.
//
// Returns ErrNoHostAvailable when no attempt could be made at all, so the
// caller can park the job and retry it later.
func (s *Service) Process(ctx context.Context, job *models.Job) error {
	hostCount := s.pool.Len()
	tried := make(map[string]bool, hostCount)
	var lastErr error

	for job.Attempts < hostCount {
		host, ok := s.pool.Select()
		if !ok {
			break
		}
		if tried[host] {
			// Rotation wrapped around to a host this job already
			// tried (recovered via another job's success).
			break
		}
		tried[host] = true
		job.Attempts++

		description, err := s.client.Describe(ctx, host, job.Asset.PreviewPath, job.Prompt)
		if err == nil {
			s.pool.ReportSuccess(host)
			if werr := s.store.UpsertDescription(ctx, job.Asset.ID, description); werr != nil {
				return fmt.Errorf("storing description for %s: %w", job.Asset.ID, werr)
			}
			s.log.Info("description stored",
				"asset_id", job.Asset.ID,
				"origin", job.Origin,
				"host", host,
				"attempts", job.Attempts,
			)
			return nil
		}

		switch {
		case errors.Is(err, ollama.ErrHostUnreachable), errors.Is(err, ollama.ErrTimeout):
			s.pool.ReportFailure(host)
			lastErr = err
			s.log.Warn("inference host failed, trying next",
				"asset_id", job.Asset.ID,
				"host", host,
				"attempt", job.Attempts,
				"error", err,
			)
		case errors.Is(err, ollama.ErrAuthRejected):
			// Credentials are engine-wide; retrying elsewhere cannot help.
			return err
		default:
			// Invalid response, empty file, unreadable path: the host
			// answered (or was never the problem), so it stays in rotation.
			return err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrAllHostsFailed, job.Attempts, lastErr)
	}
	return ErrNoHostAvailable
}
