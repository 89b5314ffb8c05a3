// Package monitor watches the Immich thumbnail tree for new preview
// images and queues describe jobs once a file has stopped changing.
//
// Immich writes previews in place, so a raw filesystem event does not
// mean the file is complete. Events only register interest; a polling
// loop then waits for the file's size and mtime to hold still across
// consecutive samples before a job is emitted.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/immich-tools/describer/internal/config"
	"github.com/immich-tools/describer/pkg/models"
)

// Enqueuer receives the jobs the monitor produces.
type Enqueuer interface {
	Enqueue(job *models.Job)
}

// pendingFile tracks a preview between its first event and stability.
type pendingFile struct {
	asset     models.Asset
	firstSeen time.Time
	lastEvent time.Time

	sampled  bool
	lastSize int64
	lastMod  time.Time
}

type Monitor struct {
	root    string
	queue   Enqueuer
	prompt  string
	cfg     config.MonitorConfig
	log     *slog.Logger
	now     func() time.Time
	pending map[string]*pendingFile
}

func New(root string, queue Enqueuer, prompt string, cfg config.MonitorConfig, log *slog.Logger) *Monitor {
	return &Monitor{
		root:    root,
		queue:   queue,
		prompt:  prompt,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		pending: map[string]*pendingFile{},
	}
}

// Run watches the thumbnail tree until ctx is canceled. It blocks;
// callers run it in a goroutine alongside the dispatcher.
func (m *Monitor) Run(ctx context.Context) error {
	thumbs := filepath.Join(m.root, "thumbs")
	info, err := os.Stat(thumbs)
	if err != nil {
		return fmt.Errorf("thumbs directory not found under %s: %w", m.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", thumbs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := m.watchTree(watcher, thumbs); err != nil {
		return err
	}
	m.log.Info("watching thumbnail tree", "root", thumbs)

	ticker := time.NewTicker(m.cfg.FileCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleEvent(watcher, event)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Error("watcher error", "error", werr)

		case <-ticker.C:
			m.poll()
		}
	}
}

// watchTree registers the directory and every subdirectory below it.
func (m *Monitor) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (m *Monitor) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	// New asset directories appear as the library grows; watch them as
	// they show up so previews inside are not missed.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := m.watchTree(watcher, event.Name); err != nil {
				m.log.Error("failed to watch new directory", "path", event.Name, "error", err)
				return
			}
			// Previews written into the directory before its watch
			// registered produced no events; pick them up now.
			m.adoptExisting(event.Name)
			return
		}
	}

	m.track(event.Name)
}

// track starts (or restarts) stability observation for a preview path.
// Non-preview names and names without an asset UUID are ignored.
func (m *Monitor) track(path string) {
	base := filepath.Base(path)
	if !strings.Contains(base, "-preview.") {
		return
	}

	now := m.now()
	if entry, ok := m.pending[path]; ok {
		// Another write to a file already under observation restarts
		// its stability cycle.
		entry.lastEvent = now
		entry.sampled = false
		return
	}

	id, err := models.AssetIDFromFilename(base)
	if err != nil {
		m.log.Debug("preview name has no asset id, skipping", "file", base)
		return
	}

	m.pending[path] = &pendingFile{
		asset: models.Asset{
			ID:          id,
			PreviewPath: path,
		},
		firstSeen: now,
		lastEvent: now,
	}
	m.log.Debug("preview detected", "asset_id", id, "path", path)
}

// adoptExisting walks a freshly watched directory and tracks any
// preview files already sitting in it. Entries that vanish mid-walk
// are skipped.
func (m *Monitor) adoptExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		m.track(path)
		return nil
	})
}

// poll advances the stability check for every pending file. A file is
// emitted once two consecutive samples agree on size and mtime, taken
// only after events have gone quiet for the cooldown window.
func (m *Monitor) poll() {
	now := m.now()
	for path, entry := range m.pending {
		if now.Sub(entry.firstSeen) > m.cfg.FileWriteTimeout {
			delete(m.pending, path)
			m.log.Warn("preview never stabilized, giving up",
				"asset_id", entry.asset.ID,
				"path", path,
				"timeout", m.cfg.FileWriteTimeout,
			)
			continue
		}

		if now.Sub(entry.lastEvent) < m.cfg.EventCooldown {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Transient file, Immich removed or renamed it.
				delete(m.pending, path)
				continue
			}
			m.log.Error("stat failed during stability check", "path", path, "error", err)
			continue
		}

		size, mod := info.Size(), info.ModTime()
		if entry.sampled && size == entry.lastSize && mod.Equal(entry.lastMod) {
			delete(m.pending, path)
			m.queue.Enqueue(&models.Job{
				Asset:  entry.asset,
				Prompt: m.prompt,
				Origin: models.OriginWatch,
			})
			m.log.Info("preview stable, queued for description",
				"asset_id", entry.asset.ID,
				"size", size,
			)
			continue
		}

		entry.sampled = true
		entry.lastSize = size
		entry.lastMod = mod
	}
}
