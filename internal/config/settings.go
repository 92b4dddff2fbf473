package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Settings are the user-editable options persisted as JSON.
type Settings struct {
	AICompletionEnabled bool   `json:"ai_completion_enabled"`
	CacheMaxSizeMB      int    `json:"cache_max_size_mb"`
	CacheAutoCleanDays  int    `json:"cache_auto_clean_days"`
	RetryCount          int    `json:"retry_count"`
	Locale              string `json:"locale"`
	Shortcut            string `json:"shortcut"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		AICompletionEnabled: true,
		CacheMaxSizeMB:      500,
		CacheAutoCleanDays:  30,
		RetryCount:          3,
		Locale:              "zh-CN",
		Shortcut:            "CommandOrControl+Shift+Y",
	}
}

// MaxAutoCleanDays caps cache_auto_clean_days at roughly a century. Zero
// keeps saved audio forever.
const MaxAutoCleanDays = 36500

// Validate checks value ranges.
func (s Settings) Validate() error {
	var problems []string
	if s.RetryCount < 0 || s.RetryCount > 10 {
		problems = append(problems, "retry_count must be between 0 and 10")
	}
	if s.CacheMaxSizeMB <= 0 {
		problems = append(problems, "cache_max_size_mb must be positive")
	}
	if s.CacheAutoCleanDays < 0 || s.CacheAutoCleanDays > MaxAutoCleanDays {
		problems = append(problems, fmt.Sprintf("cache_auto_clean_days must be between 0 and %d", MaxAutoCleanDays))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SettingsStore holds the current settings and keeps them in sync with the
// JSON file on disk. Readers always get a copy, so a value read at the
// start of an operation stays fixed for that operation.
type SettingsStore struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	current  Settings
	onChange []func(Settings)

	watcher  *fsnotify.Watcher
	debounce *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// OpenSettings loads path, falling back to defaults when it does not exist.
// Fields missing from the file keep their default values.
func OpenSettings(path string, log zerolog.Logger) (*SettingsStore, error) {
	s := &SettingsStore{
		path:    path,
		log:     log.With().Str("component", "settings").Logger(),
		current: DefaultSettings(),
		done:    make(chan struct{}),
	}
	loaded, err := readSettings(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Info().Str("path", path).Msg("no settings file, using defaults")
	case err != nil:
		return nil, err
	default:
		s.current = loaded
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and persists next, then notifies observers.
func (s *SettingsStore) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.apply(next)
	return nil
}

// OnChange registers fn to be called with the new settings after every
// update or external edit.
func (s *SettingsStore) OnChange(fn func(Settings)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *SettingsStore) apply(next Settings) {
	s.mu.Lock()
	changed := next != s.current
	s.current = next
	observers := append([]func(Settings){}, s.onChange...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range observers {
		fn(next)
	}
}

// Watch starts reloading the file when it is edited externally. The parent
// directory is watched so atomic-rename editors are picked up too.
func (s *SettingsStore) Watch() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	go s.watchLoop()
	s.log.Info().Str("path", s.path).Msg("watching settings file")
	return nil
}

// Stop ends the watch loop.
func (s *SettingsStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}

func (s *SettingsStore) watchLoop() {
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.scheduleReload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleReload debounces reloads by 200ms so a burst of write events
// results in one read of the finished file.
func (s *SettingsStore) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Reset(200 * time.Millisecond)
		return
	}
	s.debounce = time.AfterFunc(200*time.Millisecond, s.reload)
}

func (s *SettingsStore) reload() {
	loaded, err := readSettings(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Msg("settings reload failed, keeping previous values")
		}
		return
	}
	s.apply(loaded)
	s.log.Info().Msg("settings reloaded")
}

func readSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	out := DefaultSettings()
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
