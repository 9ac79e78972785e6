package prefs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileStore keeps preferences in a yaml file. Writes replace the file
// atomically so concurrent readers never see a partial document.
type FileStore struct {
	path   string
	logger *log.Logger

	mu     sync.Mutex
	values map[string]any
}

// OpenFile loads the store at path. A missing file is an empty store.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: log.Default().WithPrefix("prefs"),
	}
	values, err := s.read()
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Float implements Store. A value that is not a number is reported as an
// error rather than silently ignored.
func (s *FileStore) Float(key string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return 0, false, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, false, fmt.Errorf("preference %s: %w", key, err)
	}
	return f, true, nil
}

// SetFloat implements Store.
func (s *FileStore) SetFloat(key string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.values[key]; ok {
		if f, err := toFloat(cur); err == nil && f == v {
			return nil
		}
	}
	next := maps.Clone(s.values)
	next[key] = v
	if err := s.write(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	next := maps.Clone(s.values)
	delete(next, key)
	if err := s.write(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Watch reloads the store whenever another process rewrites the file and
// calls fn after each reload that changed a value. It blocks until ctx is
// done.
func (s *FileStore) Watch(ctx context.Context, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("error watching %s: %w", dir, err)
	}
	s.logger.Debug("Watching preferences", "file", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if s.reload() {
				s.logger.Debug("Preferences changed on disk", "file", s.path, "event", event.Op)
				fn()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Debug("Preferences watcher error", "file", s.path, "error", err)
		}
	}
}

// reload rereads the file and reports whether anything changed.
func (s *FileStore) reload() bool {
	values, err := s.read()
	if err != nil {
		s.logger.Warn("Failed to reload preferences", "file", s.path, "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(values, s.values) {
		return false
	}
	s.values = values
	return true
}

func (s *FileStore) read() (map[string]any, error) {
	values := make(map[string]any)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse preferences %s: %w", s.path, err)
	}
	if values == nil {
		values = make(map[string]any)
	}
	// yaml writes 1.0 as 1; keep numbers comparable with what we stored.
	for k, v := range values {
		if _, isString := v.(string); isString {
			continue
		}
		if f, err := toFloat(v); err == nil {
			values[k] = f
		}
	}
	return values, nil
}

func (s *FileStore) write(values map[string]any) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace preferences: %w", err)
	}
	return nil
}
