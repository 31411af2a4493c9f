package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/balkashynov/tracker/internal/db"
	"github.com/balkashynov/tracker/internal/models"
	"github.com/balkashynov/tracker/internal/parser"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// TaskCreator is what the importer needs from the store
type TaskCreator interface {
	Now() time.Time
	CreateTaskWithHierarchy(req db.CreateTaskRequest) (*models.Task, error)
}

// Importer turns task-tree documents dropped into a directory into tasks.
// Each file is created atomically and then moved to processed/, or to
// failed/ with a .err file next to it.
type Importer struct {
	dir    string
	store  TaskCreator
	logger *slog.Logger
}

func NewImporter(dir string, store TaskCreator, logger *slog.Logger) *Importer {
	return &Importer{dir: dir, store: store, logger: logger}
}

// Dir is the watched inbox directory
func (im *Importer) Dir() string { return im.dir }

// Prepare creates the inbox and its processed/ and failed/ subdirectories
func (im *Importer) Prepare() error {
	for _, d := range []string{im.dir, filepath.Join(im.dir, processedDir), filepath.Join(im.dir, failedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", d, err)
		}
	}
	return nil
}

// Accepts reports whether path is a document the inbox should import
func (im *Importer) Accepts(path string) bool {
	if filepath.Dir(path) != filepath.Clean(im.dir) {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ScanDir imports every pending document and returns how many became tasks
func (im *Importer) ScanDir() (int, error) {
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	imported := 0
	for _, e := range entries {
		path := filepath.Join(im.dir, e.Name())
		if e.IsDir() || !im.Accepts(path) {
			continue
		}
		if _, err := im.ImportFile(path); err == nil {
			imported++
		}
	}
	return imported, nil
}

// ImportFile creates a task from one document and files the document away
func (im *Importer) ImportFile(path string) (*models.Task, error) {
	task, err := im.create(path)
	if err != nil {
		im.logger.Error("import failed", slog.String("file", path), slog.Any("err", err))
		if moveErr := im.file(path, failedDir); moveErr != nil {
			im.logger.Error("move failed import", slog.String("file", path), slog.Any("err", moveErr))
		} else {
			errPath := filepath.Join(im.dir, failedDir, filepath.Base(path)+".err")
			if werr := os.WriteFile(errPath, []byte(err.Error()+"\n"), 0644); werr != nil {
				im.logger.Error("write import error file", slog.String("file", errPath), slog.Any("err", werr))
			}
		}
		return nil, err
	}

	im.logger.Info("task imported",
		slog.String("file", filepath.Base(path)),
		slog.Uint64("task_id", uint64(task.ID)),
		slog.String("name", task.Name),
		slog.Int("phases", len(task.Phases)))
	if err := im.file(path, processedDir); err != nil {
		im.logger.Error("move processed import", slog.String("file", path), slog.Any("err", err))
	}
	return task, nil
}

func (im *Importer) create(path string) (*models.Task, error) {
	doc, err := parser.ParseTaskTreeFile(path)
	if err != nil {
		return nil, err
	}
	req, err := doc.Request(im.store.Now())
	if err != nil {
		return nil, err
	}
	return im.store.CreateTaskWithHierarchy(req)
}

// file moves path into the given subdirectory without overwriting
func (im *Importer) file(path, sub string) error {
	dest := filepath.Join(im.dir, sub, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		stamp := im.store.Now().Format("20060102T150405")
		dest = filepath.Join(im.dir, sub, stamp+"-"+filepath.Base(path))
	}
	return os.Rename(path, dest)
}
