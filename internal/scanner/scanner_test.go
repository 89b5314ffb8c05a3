package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/immich-tools/describer/pkg/models"
)

type fakeStore struct {
	assets []models.Asset
	err    error
}

func (s *fakeStore) Ping(_ context.Context) error { return nil }

func (s *fakeStore) ForEachAsset(_ context.Context, fn func(models.Asset) error) error {
	for _, a := range s.assets {
		if err := fn(a); err != nil {
			return err
		}
	}
	return s.err
}

func (s *fakeStore) HasDescription(_ context.Context, _ uuid.UUID) (bool, error) {
	return false, nil
}

func (s *fakeStore) UpsertDescription(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

type captureQueue struct {
	jobs []*models.Job
}

func (q *captureQueue) Enqueue(job *models.Job) {
	q.jobs = append(q.jobs, job)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func asset(described bool) models.Asset {
	return models.Asset{
		ID:             uuid.New(),
		PreviewPath:    "/thumbs/a-preview.webp",
		HasDescription: described,
	}
}

func TestRun_SkipsDescribedAssets(t *testing.T) {
	st := &fakeStore{assets: []models.Asset{asset(false), asset(true), asset(false)}}
	q := &captureQueue{}
	s := New(st, q, "prompt", false, testLogger())

	enqueued, skipped, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enqueued != 2 || skipped != 1 {
		t.Errorf("got enqueued=%d skipped=%d, want 2/1", enqueued, skipped)
	}
	if len(q.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(q.jobs))
	}
	for _, j := range q.jobs {
		if j.Origin != models.OriginScan {
			t.Errorf("job origin = %q, want %q", j.Origin, models.OriginScan)
		}
		if j.Prompt != "prompt" {
			t.Errorf("job prompt = %q", j.Prompt)
		}
	}
}

func TestRun_IgnoreExistingReprocessesEverything(t *testing.T) {
	st := &fakeStore{assets: []models.Asset{asset(true), asset(true), asset(false)}}
	q := &captureQueue{}
	s := New(st, q, "prompt", true, testLogger())

	enqueued, skipped, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enqueued != 3 || skipped != 0 {
		t.Errorf("got enqueued=%d skipped=%d, want 3/0", enqueued, skipped)
	}
}

func TestRun_StorageErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	st := &fakeStore{assets: []models.Asset{asset(false)}, err: boom}
	q := &captureQueue{}
	s := New(st, q, "prompt", false, testLogger())

	_, _, err := s.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestRun_ContextCancellationStopsScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &fakeStore{assets: []models.Asset{asset(false), asset(false)}}
	q := &captureQueue{}
	s := New(st, q, "prompt", false, testLogger())

	_, _, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(q.jobs) != 0 {
		t.Errorf("no jobs should be enqueued after cancellation, got %d", len(q.jobs))
	}
}
