// Package daemon runs the long-lived tracker process: the ping scheduler
// and, when configured, the task import inbox.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/balkashynov/tracker/internal/scheduler"
)

// importDebounce lets a writer finish a file before it is read
const importDebounce = 250 * time.Millisecond

// Options configures the daemon
type Options struct {
	ShutdownTimeout time.Duration
}

// Daemon is the main tracker process.
type Daemon struct {
	sched    *scheduler.Scheduler
	importer *Importer // nil when the inbox is disabled
	logger   *slog.Logger
	opts     Options

	watcher *fsnotify.Watcher

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	stopped  chan struct{}
}

// New creates a daemon. importer may be nil.
func New(sched *scheduler.Scheduler, importer *Importer, opts Options, logger *slog.Logger) *Daemon {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		sched:    sched,
		importer: importer,
		logger:   logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
}

// Run starts the background loops and blocks until ctx is cancelled or
// Shutdown is called, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon starting")

	if d.importer != nil {
		if err := d.importer.Prepare(); err != nil {
			return err
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create fsnotify watcher: %w", err)
		}
		if err := watcher.Add(d.importer.Dir()); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", d.importer.Dir(), err)
		}
		d.watcher = watcher

		// documents dropped while the daemon was down
		if n, err := d.importer.ScanDir(); err != nil {
			d.logger.Error("initial import scan", slog.Any("err", err))
		} else if n > 0 {
			d.logger.Info("initial import scan", slog.Int("imported", n))
		}

		d.wg.Add(1)
		go d.fsnotifyLoop()
		d.logger.Info("watching import inbox", slog.String("dir", d.importer.Dir()))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sched.Run(d.ctx); err != nil {
			d.logger.Error("scheduler exited", slog.Any("err", err))
		}
	}()
	d.logger.Info("daemon ready")

	select {
	case <-ctx.Done():
		d.logger.Info("stop requested, initiating graceful shutdown")
	case <-d.ctx.Done():
	}
	d.Shutdown()
	<-d.stopped
	return nil
}

// fsnotifyLoop imports documents once writes to them have settled
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	pending := map[string]struct{}{}
	timer := time.NewTimer(importDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) || !d.importer.Accepts(event.Name) {
				continue
			}
			d.logger.Debug("fsnotify event", slog.String("op", event.Op.String()), slog.String("file", event.Name))
			pending[event.Name] = struct{}{}
			timer.Reset(importDebounce)
		case <-timer.C:
			for path := range pending {
				if _, err := os.Stat(path); err != nil {
					continue // already filed away
				}
				d.importer.ImportFile(path)
			}
			clear(pending)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("fsnotify error", slog.Any("err", err))
		}
	}
}

// Shutdown stops accepting new work and waits for the in-flight tick and
// import to finish, up to the shutdown timeout. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		defer close(d.stopped)
		d.logger.Info("shutdown started")

		d.cancel()
		if d.watcher != nil {
			d.watcher.Close()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.logger.Info("all goroutines drained")
		case <-time.After(d.opts.ShutdownTimeout):
			d.logger.Warn("shutdown timed out, some operations may be incomplete",
				slog.Duration("timeout", d.opts.ShutdownTimeout))
		}
		d.logger.Info("daemon stopped")
	})
}
