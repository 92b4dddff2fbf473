package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/apperr"
)

// Tier is the storage class of an audio artifact.
type Tier string

const (
	Temporary Tier = "temporary"
	Persisted Tier = "persisted"
)

// Artifact is one audio file owned by the manager.
type Artifact struct {
	Path      string    `json:"path"`
	Tier      Tier      `json:"tier"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Name returns the artifact's file name.
func (a Artifact) Name() string { return filepath.Base(a.Path) }

// Manager owns the temporary and persisted audio directories. No other
// component writes to them.
type Manager struct {
	tempDir  string
	savedDir string
	log      zerolog.Logger

	mu     sync.Mutex // serializes promote/evict/purge
	mirror *Mirror
	now    func() time.Time
}

// New creates a manager over tempDir (temporary tier) and savedDir
// (persisted tier). Both directories are created if missing.
func New(tempDir, savedDir string, log zerolog.Logger) (*Manager, error) {
	for _, dir := range []string{tempDir, savedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return &Manager{
		tempDir:  tempDir,
		savedDir: savedDir,
		log:      log.With().Str("component", "media-cache").Logger(),
		now:      time.Now,
	}, nil
}

// SetMirror enables best-effort upload of promoted artifacts.
func (m *Manager) SetMirror(mirror *Mirror) {
	m.mirror = mirror
}

func (m *Manager) TempDir() string  { return m.tempDir }
func (m *Manager) SavedDir() string { return m.savedDir }

// StoreTemporary writes data as a new temporary MP3 artifact.
func (m *Manager) StoreTemporary(ctx context.Context, data []byte) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if len(data) == 0 {
		return Artifact{}, apperr.New(apperr.StorageFailure, "refusing to store empty audio")
	}
	path := filepath.Join(m.tempDir, uuid.NewString()+".mp3")

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := writeAtomic(path, data); err != nil {
		return Artifact{}, apperr.Wrap(apperr.StorageFailure, err)
	}
	m.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("temporary artifact stored")
	return m.stat(path, Temporary)
}

// Promote copies a temporary artifact into the persisted tier. The
// temporary copy stays until PurgeTemporary. Promoting the same artifact
// again returns the existing persisted copy.
func (m *Manager) Promote(ctx context.Context, a Artifact) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	src, err := m.resolve(a.Path, m.tempDir)
	if err != nil {
		return Artifact{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dst := filepath.Join(m.savedDir, filepath.Base(src))
	if _, err := os.Stat(dst); err == nil {
		return m.stat(dst, Persisted)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{}, apperr.Newf(apperr.StorageFailure, "temporary artifact %s no longer exists", filepath.Base(src))
		}
		return Artifact{}, apperr.Wrap(apperr.StorageFailure, err)
	}
	if err := writeAtomic(dst, data); err != nil {
		return Artifact{}, apperr.Wrap(apperr.StorageFailure, err)
	}

	saved, err := m.stat(dst, Persisted)
	if err != nil {
		return Artifact{}, err
	}
	if m.mirror != nil {
		m.mirror.Enqueue(saved.Name(), data)
	}
	m.log.Info().Str("path", dst).Int64("bytes", saved.SizeBytes).Msg("artifact promoted")
	return saved, nil
}

// PurgeTemporary deletes every file in the temporary tier. It is safe to
// call repeatedly and when the directory is missing.
func (m *Manager) PurgeTemporary() (int, error) {
	return m.purge(m.tempDir, Temporary)
}

// PurgePersisted clears the saved tier. Copies already mirrored to object
// storage are left alone.
func (m *Manager) PurgePersisted() (int, error) {
	return m.purge(m.savedDir, Persisted)
}

func (m *Manager) purge(dir string, tier Tier) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, err)
	}

	removed := 0
	var firstErr error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		err := os.Remove(filepath.Join(dir, e.Name()))
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		case firstErr == nil:
			firstErr = err
		}
	}
	if removed > 0 {
		m.log.Info().Str("tier", string(tier)).Int("removed", removed).Msg("audio tier purged")
	}
	if firstErr != nil {
		return removed, apperr.Wrap(apperr.StorageFailure, firstErr)
	}
	return removed, nil
}

// Delete removes a persisted artifact by file name.
func (m *Manager) Delete(name string) error {
	path, err := m.resolve(name, m.savedDir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Wrap(apperr.StorageFailure, err)
	}
	return nil
}

// Lookup returns the artifact with the given file name in tier.
func (m *Manager) Lookup(tier Tier, name string) (Artifact, error) {
	dir := m.tempDir
	if tier == Persisted {
		dir = m.savedDir
	}
	path, err := m.resolve(name, dir)
	if err != nil {
		return Artifact{}, err
	}
	return m.stat(path, tier)
}

// List returns the artifacts of a tier, oldest first.
func (m *Manager) List(tier Tier) ([]Artifact, error) {
	dir := m.tempDir
	if tier == Persisted {
		dir = m.savedDir
	}
	files, err := scanDir(dir)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err)
	}
	out := make([]Artifact, 0, len(files))
	for _, f := range files {
		out = append(out, Artifact{Path: f.path, Tier: tier, SizeBytes: f.size, CreatedAt: f.modTime})
	}
	return out, nil
}

// TierUsage reports bytes and file counts per tier.
func (m *Manager) TierUsage() (tempBytes, savedBytes int64, tempFiles, savedFiles int) {
	if files, err := scanDir(m.tempDir); err == nil {
		for _, f := range files {
			tempBytes += f.size
		}
		tempFiles = len(files)
	}
	if files, err := scanDir(m.savedDir); err == nil {
		for _, f := range files {
			savedBytes += f.size
		}
		savedFiles = len(files)
	}
	return
}

// TierStats summarizes one tier.
type TierStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Stats reports both tiers.
type Stats struct {
	Temporary TierStats `json:"temporary"`
	Persisted TierStats `json:"persisted"`
}

func (m *Manager) Stats() Stats {
	tb, sb, tf, sf := m.TierUsage()
	return Stats{
		Temporary: TierStats{Files: tf, Bytes: tb},
		Persisted: TierStats{Files: sf, Bytes: sb},
	}
}

// resolve accepts a path or bare file name and returns the absolute path
// inside dir. Anything pointing outside dir is rejected.
func (m *Manager) resolve(pathOrName, dir string) (string, error) {
	name := filepath.Base(pathOrName)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		return "", apperr.Newf(apperr.StorageFailure, "invalid artifact name %q", pathOrName)
	}
	if filepath.IsAbs(pathOrName) || strings.ContainsRune(pathOrName, filepath.Separator) {
		absDir, _ := filepath.Abs(dir)
		absPath, _ := filepath.Abs(pathOrName)
		if filepath.Dir(absPath) != absDir {
			return "", apperr.Newf(apperr.StorageFailure, "%s is not in the %s tier", pathOrName, filepath.Base(dir))
		}
	}
	return filepath.Join(dir, name), nil
}

func (m *Manager) stat(path string, tier Tier) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, apperr.Wrap(apperr.StorageFailure, err)
	}
	return Artifact{Path: path, Tier: tier, SizeBytes: info.Size(), CreatedAt: info.ModTime()}, nil
}

type fileEntry struct {
	path    string
	modTime time.Time
	size    int64
}

// scanDir lists regular files in dir, oldest first. In-progress writes
// (dot-prefixed temp files) are skipped.
func scanDir(dir string) ([]fileEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []fileEntry
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{
			path:    filepath.Join(dir, e.Name()),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, nil
}

// writeAtomic writes data to path through a temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".audio-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Open returns a reader for an artifact.
func (m *Manager) Open(a Artifact) (io.ReadCloser, error) {
	dir := m.tempDir
	if a.Tier == Persisted {
		dir = m.savedDir
	}
	path, err := m.resolve(a.Path, dir)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err)
	}
	return f, nil
}
