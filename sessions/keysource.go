package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// KeySource supplies the signing key material at use time. Implementations
// must be safe for concurrent use.
type KeySource interface {
	SigningKey() ([]byte, error)
}

// StaticKey is a fixed in-memory signing key.
type StaticKey []byte

// SigningKey implements KeySource.
func (k StaticKey) SigningKey() ([]byte, error) {
	if len(k) == 0 {
		return nil, errors.New("empty signing key")
	}
	return []byte(k), nil
}

// FileKeySource reads the signing key from a file and hot-reloads it when
// the file changes, so key material can be rotated without a restart.
// Tokens signed with the previous key fail verification after the swap;
// that is the intended rotation behavior.
type FileKeySource struct {
	path    string
	key     atomic.Pointer[[]byte]
	watcher *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
}

// NewFileKeySource loads the key at path and starts watching its directory
// for changes. Close releases the watcher.
func NewFileKeySource(path string, log *slog.Logger) (*FileKeySource, error) {
	if log == nil {
		log = slog.Default()
	}
	ks := &FileKeySource{path: path, log: log, done: make(chan struct{})}
	if err := ks.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher init failed: %w", err)
	}
	// Watch the directory, not the file: editors and secret managers
	// replace files by rename, which drops a direct file watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch key directory: %w", err)
	}
	ks.watcher = w
	go ks.watch()
	return ks, nil
}

// SigningKey implements KeySource.
func (ks *FileKeySource) SigningKey() ([]byte, error) {
	p := ks.key.Load()
	if p == nil || len(*p) == 0 {
		return nil, errors.New("signing key not loaded")
	}
	return *p, nil
}

// Close stops the watcher.
func (ks *FileKeySource) Close() error {
	close(ks.done)
	if ks.watcher != nil {
		return ks.watcher.Close()
	}
	return nil
}

func (ks *FileKeySource) reload() error {
	data, err := os.ReadFile(ks.path)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("key file %s is empty", ks.path)
	}
	ks.key.Store(&data)
	return nil
}

func (ks *FileKeySource) watch() {
	for {
		select {
		case <-ks.done:
			return
		case ev, ok := <-ks.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(ks.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := ks.reload(); err != nil {
				// Keep serving the previous key until the file is readable again.
				ks.log.Warn("signing key reload failed", slog.String("path", ks.path), slog.String("err", err.Error()))
				continue
			}
			ks.log.Info("signing key reloaded", slog.String("path", ks.path))
		case err, ok := <-ks.watcher.Errors:
			if !ok {
				return
			}
			ks.log.Warn("key watcher error", slog.String("err", err.Error()))
		}
	}
}

var (
	_ KeySource = StaticKey(nil)
	_ KeySource = (*FileKeySource)(nil)
)
