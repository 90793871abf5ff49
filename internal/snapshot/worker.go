// Package snapshot periodically copies the tracking store to object storage.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// Source produces a consistent copy of the store at dst.
type Source interface {
	Snapshot(ctx context.Context, dst string) error
}

// Uploader stores a snapshot under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
}

// Worker takes a snapshot every interval and uploads it.
type Worker struct {
	source   Source
	uploader Uploader
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewWorker creates a snapshot worker. It does nothing until Start.
func NewWorker(source Source, uploader Uploader, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		source:   source,
		uploader: uploader,
		interval: interval,
		timeout:  10 * time.Minute,
		now:      time.Now,
	}
}

// Start begins periodic snapshots. The first one runs after one interval.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	log.Printf("[snapshot] worker started (interval %s)", w.interval)

	go w.run(w.stopChan, w.done)
}

// Stop ends the worker and waits for an in-flight snapshot to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	done := w.done
	w.mu.Unlock()

	<-done
	log.Println("[snapshot] worker stopped")
}

func (w *Worker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
			if key, err := w.RunOnce(ctx); err != nil {
				logger.Error("store snapshot failed", "error", err)
			} else {
				logger.Info("store snapshot uploaded", "key", key)
			}
			cancel()
		case <-stop:
			return
		}
	}
}

// RunOnce takes one snapshot, uploads it and returns the object key.
func (w *Worker) RunOnce(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "mailtrack-snapshot-")
	if err != nil {
		return "", fmt.Errorf("snapshot temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "tracking.db")
	if err := w.source.Snapshot(ctx, dst); err != nil {
		return "", err
	}

	f, err := os.Open(dst)
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat snapshot: %w", err)
	}

	key := w.now().UTC().Format("20060102T150405Z") + ".db"
	if err := w.uploader.Upload(ctx, key, f, info.Size()); err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return key, nil
}
