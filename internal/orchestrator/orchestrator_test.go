package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immich-tools/describer/internal/config"
	"github.com/immich-tools/describer/internal/store"
	"github.com/immich-tools/describer/pkg/models"
)

type fakeStore struct {
	mu        sync.Mutex
	assets    []models.Asset
	described map[uuid.UUID]bool
	lookupErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{described: map[uuid.UUID]bool{}}
}

func (s *fakeStore) Ping(_ context.Context) error { return nil }

func (s *fakeStore) ForEachAsset(_ context.Context, fn func(models.Asset) error) error {
	for _, a := range s.assets {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) HasDescription(_ context.Context, id uuid.UUID) (bool, error) {
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if has, ok := s.described[id]; ok {
		return has, nil
	}
	return false, store.ErrNotFound
}

func (s *fakeStore) UpsertDescription(_ context.Context, id uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.described[id] = true
	return nil
}

// fakeProcessor fails the asset IDs listed in failures and blocks on
// the gate channel, if set, for the asset IDs listed in gated.
type fakeProcessor struct {
	mu       sync.Mutex
	failures map[uuid.UUID]error
	gated    map[uuid.UUID]chan struct{}
	seen     []uuid.UUID
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		failures: map[uuid.UUID]error{},
		gated:    map[uuid.UUID]chan struct{}{},
	}
}

func (p *fakeProcessor) Process(_ context.Context, job *models.Job) error {
	p.mu.Lock()
	p.seen = append(p.seen, job.Asset.ID)
	gate := p.gated[job.Asset.ID]
	err := p.failures[job.Asset.ID]
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (p *fakeProcessor) processed() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.seen...)
}

func (p *fakeProcessor) waitSeen(t *testing.T, id uuid.UUID, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, seen := range p.processed() {
			if seen == id {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("asset %s never reached the processor", id)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Mode: config.ModeBatch,
		Library: config.LibraryConfig{
			Root: t.TempDir(),
		},
		Ollama: config.OllamaConfig{
			Prompt: "prompt",
		},
		Dispatch: config.DispatchConfig{
			MaxConcurrent:    2,
			RetryDelay:       10 * time.Millisecond,
			QueueWaitTimeout: time.Second,
		},
		Monitor: config.MonitorConfig{
			FileCheckInterval: 10 * time.Millisecond,
			EventCooldown:     20 * time.Millisecond,
			FileWriteTimeout:  time.Second,
		},
		Lang: "en",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func watchJob(id uuid.UUID) *models.Job {
	return &models.Job{
		Asset:  models.Asset{ID: id, PreviewPath: "/thumbs/p-preview.webp"},
		Prompt: "prompt",
		Origin: models.OriginWatch,
	}
}

func TestRunBatch_ProcessesPendingAssets(t *testing.T) {
	st := newFakeStore()
	pending := models.Asset{ID: uuid.New(), PreviewPath: "/t/a-preview.webp"}
	done := models.Asset{ID: uuid.New(), PreviewPath: "/t/b-preview.webp", HasDescription: true}
	st.assets = []models.Asset{pending, done}

	proc := newFakeProcessor()
	var out bytes.Buffer
	o := New(testConfig(t), st, proc, testLogger(), &out)

	if err := o.RunBatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := proc.processed()
	if len(ids) != 1 || ids[0] != pending.ID {
		t.Errorf("expected only the undescribed asset, got %v", ids)
	}
	if got := o.successful.Load(); got != 1 {
		t.Errorf("successful = %d, want 1", got)
	}
	if got := o.skipped.Load(); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
	if !strings.Contains(out.String(), "Successful: 1") {
		t.Errorf("summary missing success count:\n%s", out.String())
	}
}

func TestRunBatch_CountsFailures(t *testing.T) {
	st := newFakeStore()
	bad := models.Asset{ID: uuid.New(), PreviewPath: "/t/a-preview.webp"}
	good := models.Asset{ID: uuid.New(), PreviewPath: "/t/b-preview.webp"}
	st.assets = []models.Asset{bad, good}

	proc := newFakeProcessor()
	proc.failures[bad.ID] = errors.New("model exploded")

	var out bytes.Buffer
	o := New(testConfig(t), st, proc, testLogger(), &out)
	if err := o.RunBatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := o.failed.Load(); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := o.successful.Load(); got != 1 {
		t.Errorf("successful = %d, want 1", got)
	}
	if !strings.Contains(out.String(), "Failed: 1") {
		t.Errorf("summary missing failure count:\n%s", out.String())
	}
}

func TestEnqueue_DropsDuplicateAsset(t *testing.T) {
	st := newFakeStore()
	proc := newFakeProcessor()
	o := New(testConfig(t), st, proc, testLogger(), io.Discard)
	o.dispatcher.Start(context.Background())
	defer o.dispatcher.Close()

	id := uuid.New()
	if !o.inflight.TryAdd(id) {
		t.Fatal("setup: could not claim asset")
	}

	o.Enqueue(watchJob(id))
	o.dispatcher.Wait()

	if got := proc.processed(); len(got) != 0 {
		t.Errorf("duplicate must not reach the processor, got %v", got)
	}
	if got := o.skipped.Load(); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
}

func TestEnqueue_WatchJobSkipsDescribedAsset(t *testing.T) {
	st := newFakeStore()
	id := uuid.New()
	st.described[id] = true

	proc := newFakeProcessor()
	o := New(testConfig(t), st, proc, testLogger(), io.Discard)
	o.dispatcher.Start(context.Background())
	defer o.dispatcher.Close()

	o.Enqueue(watchJob(id))
	o.dispatcher.Wait()

	if got := proc.processed(); len(got) != 0 {
		t.Errorf("described asset must be skipped, got %v", got)
	}
	if o.inflight.Len() != 0 {
		t.Error("skipped asset must be released from the in-flight set")
	}
}

func TestEnqueue_WatchJobIgnoreExistingReprocesses(t *testing.T) {
	st := newFakeStore()
	id := uuid.New()
	st.described[id] = true

	cfg := testConfig(t)
	cfg.Library.IgnoreExisting = true
	proc := newFakeProcessor()
	o := New(cfg, st, proc, testLogger(), io.Discard)
	o.dispatcher.Start(context.Background())
	defer o.dispatcher.Close()

	o.Enqueue(watchJob(id))
	o.dispatcher.Wait()

	if got := proc.processed(); len(got) != 1 {
		t.Errorf("asset should be reprocessed, got %v", got)
	}
}

func TestEnqueue_UnknownAssetProceeds(t *testing.T) {
	// ErrNotFound from the lookup means no exif row yet; the job runs.
	st := newFakeStore()
	proc := newFakeProcessor()
	o := New(testConfig(t), st, proc, testLogger(), io.Discard)
	o.dispatcher.Start(context.Background())
	defer o.dispatcher.Close()

	o.Enqueue(watchJob(uuid.New()))
	o.dispatcher.Wait()

	if got := proc.processed(); len(got) != 1 {
		t.Errorf("expected the job to run, got %v", got)
	}
}

func TestEnqueue_LookupErrorCountsAsFailed(t *testing.T) {
	st := newFakeStore()
	st.lookupErr = errors.New("connection reset")
	proc := newFakeProcessor()
	o := New(testConfig(t), st, proc, testLogger(), io.Discard)
	o.dispatcher.Start(context.Background())
	defer o.dispatcher.Close()

	o.Enqueue(watchJob(uuid.New()))
	o.dispatcher.Wait()

	if got := o.failed.Load(); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if o.inflight.Len() != 0 {
		t.Error("failed lookup must release the in-flight claim")
	}
}

func TestRunCombined_MonitorRunsDuringBatch(t *testing.T) {
	// A preview written while the batch backlog is still draining must
	// be picked up by the monitor, which runs alongside the scanner.
	st := newFakeStore()
	batchAsset := models.Asset{ID: uuid.New(), PreviewPath: "/t/a-preview.webp"}
	st.assets = []models.Asset{batchAsset}

	cfg := testConfig(t)
	thumbs := filepath.Join(cfg.Library.Root, "thumbs")
	if err := os.Mkdir(thumbs, 0o755); err != nil {
		t.Fatal(err)
	}

	proc := newFakeProcessor()
	gate := make(chan struct{})
	proc.gated[batchAsset.ID] = gate

	o := New(cfg, st, proc, testLogger(), io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- o.RunCombined(ctx)
	}()

	// The batch job is now parked in the processor. Drop a new preview
	// into the watched tree while it blocks, leaving the watcher a
	// moment to finish registering.
	proc.waitSeen(t, batchAsset.ID, 3*time.Second)
	time.Sleep(100 * time.Millisecond)

	watchID := uuid.New()
	path := filepath.Join(thumbs, watchID.String()+"-preview.webp")
	if err := os.WriteFile(path, []byte("image bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	proc.waitSeen(t, watchID, 3*time.Second)

	close(gate)
	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunBatch_RussianSummary(t *testing.T) {
	st := newFakeStore()
	st.assets = []models.Asset{{ID: uuid.New(), PreviewPath: "/t/a-preview.webp"}}

	cfg := testConfig(t)
	cfg.Lang = "ru"
	var out bytes.Buffer
	o := New(cfg, st, newFakeProcessor(), testLogger(), &out)
	if err := o.RunBatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Статистика обработки:") {
		t.Errorf("expected russian summary, got:\n%s", out.String())
	}
}
