// Package synth renders a record set into the engine's configuration
// directory. Every synthesis produces an immutable generation directory and
// publishes it by atomically repointing a symlink.
package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/metrics"
)

// Artifact subdirectories. They are created even when empty.
var artifactDirs = []string{"networks", "monitors", "triggers"}

// Generation describes the configuration the path points at after a
// successful Synthesize.
type Generation struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Networks int    `json:"networks"`
	Monitors int    `json:"monitors"`
	Triggers int    `json:"triggers"`
	// Unchanged is set when the path already pointed at this generation.
	Unchanged bool `json:"unchanged"`
}

// Synthesizer owns one configuration path.
type Synthesizer struct {
	path   string
	logger *slog.Logger
}

// New creates a synthesizer publishing to path. The path is made absolute
// so that the generation directory sits next to it.
func New(path string, logger *slog.Logger) (*Synthesizer, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{path: abs, logger: logger}, nil
}

// Path returns the configuration path the engine should read.
func (s *Synthesizer) Path() string {
	return s.path
}

// linkTarget is relative so the configuration tree can be moved as a whole.
func (s *Synthesizer) linkTarget(id string) string {
	return filepath.Join(filepath.Base(s.generationsDir()), id)
}

func (s *Synthesizer) generationsDir() string {
	return filepath.Join(filepath.Dir(s.path), "."+filepath.Base(s.path)+".generations")
}

// Synthesize renders set and publishes it. Cancellation is honoured up to
// the swap: a cancelled synthesis leaves the previous generation in place.
func (s *Synthesizer) Synthesize(ctx context.Context, set domain.RecordSet) (Generation, error) {
	artifacts, err := Render(set)
	if err != nil {
		return Generation{}, err
	}

	id := generationID(artifacts)
	genRoot := s.generationsDir()
	gen := Generation{
		ID:       id,
		Path:     filepath.Join(genRoot, id),
		Networks: len(set.Networks),
		Monitors: len(set.Monitors),
		Triggers: len(set.Triggers),
	}

	if target, err := os.Readlink(s.path); err == nil && target == s.linkTarget(id) {
		if _, err := os.Stat(gen.Path); err == nil {
			gen.Unchanged = true
			recordArtifacts(gen)
			s.logger.Debug("Configuration unchanged", "generation", id)
			return gen, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}

	if err := os.MkdirAll(genRoot, 0o755); err != nil {
		return Generation{}, writeFailure(genRoot, err)
	}
	if _, err := os.Stat(gen.Path); errors.Is(err, os.ErrNotExist) {
		if err := s.writeGeneration(ctx, genRoot, gen.Path, artifacts); err != nil {
			return Generation{}, err
		}
	}

	if err := s.moveAside(); err != nil {
		return Generation{}, err
	}
	if err := s.swap(id); err != nil {
		return Generation{}, err
	}
	s.prune(genRoot, id)
	recordArtifacts(gen)

	s.logger.Info("Synthesized engine configuration",
		"path", s.path,
		"generation", id,
		"networks", gen.Networks,
		"monitors", gen.Monitors,
		"triggers", gen.Triggers,
	)
	return gen, nil
}

// writeGeneration writes artifacts into a temp directory and renames it to
// dst once everything is on disk.
func (s *Synthesizer) writeGeneration(
	ctx context.Context,
	genRoot, dst string,
	artifacts []Artifact,
) (err error) {
	tmp, err := os.MkdirTemp(genRoot, ".tmp-")
	if err != nil {
		return writeFailure(genRoot, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	for _, dir := range artifactDirs {
		if err := os.Mkdir(filepath.Join(tmp, dir), 0o755); err != nil {
			return writeFailure(filepath.Join(tmp, dir), err)
		}
	}
	for _, a := range artifacts {
		if err := writeFileSync(filepath.Join(tmp, filepath.FromSlash(a.Path)), a.Data); err != nil {
			return writeFailure(a.Path, err)
		}
	}
	for _, dir := range artifactDirs {
		if err := syncDir(filepath.Join(tmp, dir)); err != nil {
			return writeFailure(filepath.Join(tmp, dir), err)
		}
	}
	if err := syncDir(tmp); err != nil {
		return writeFailure(tmp, err)
	}

	// Last point at which a stop discards the work.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		return writeFailure(dst, err)
	}
	if err := syncDir(genRoot); err != nil {
		return writeFailure(genRoot, err)
	}
	return nil
}

// moveAside renames a real directory occupying the configuration path so
// the path can become a symlink.
func (s *Synthesizer) moveAside() error {
	info, err := os.Lstat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return writeFailure(s.path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}

	backup := fmt.Sprintf("%s.bak-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, backup); err != nil {
		return writeFailure(s.path, err)
	}
	s.logger.Warn("Moved existing configuration directory aside", "path", s.path, "backup", backup)
	return nil
}

// swap points the configuration path at generation id with one rename.
func (s *Synthesizer) swap(id string) error {
	parent := filepath.Dir(s.path)
	target := s.linkTarget(id)
	link := filepath.Join(parent, fmt.Sprintf(".%s.link-%d", filepath.Base(s.path), time.Now().UnixNano()))

	if err := os.Symlink(target, link); err != nil {
		return writeFailure(link, err)
	}
	if err := os.Rename(link, s.path); err != nil {
		_ = os.Remove(link)
		return writeFailure(s.path, err)
	}
	if err := syncDir(parent); err != nil {
		return writeFailure(parent, err)
	}
	return nil
}

// prune removes superseded generations and abandoned temp directories.
func (s *Synthesizer) prune(genRoot, keep string) {
	entries, err := os.ReadDir(genRoot)
	if err != nil {
		s.logger.Warn("Failed to list generations", "dir", genRoot, "error", err)
		return
	}
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(genRoot, e.Name())); err != nil {
			s.logger.Warn("Failed to remove old generation", "generation", e.Name(), "error", err)
		}
	}
}

// Remove deletes the configuration path and all generations. Used for
// temporary configuration directories.
func (s *Synthesizer) Remove() error {
	info, err := os.Lstat(s.path)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		err = os.Remove(s.path)
	} else if err == nil {
		err = os.RemoveAll(s.path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.RemoveAll(s.generationsDir())
}

func generationID(artifacts []Artifact) string {
	h := sha256.New()
	for _, a := range artifacts {
		h.Write([]byte(a.Path))
		h.Write([]byte{0})
		h.Write(a.Data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func writeFileSync(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func recordArtifacts(gen Generation) {
	metrics.ArtifactsSynthesized.WithLabelValues("network").Set(float64(gen.Networks))
	metrics.ArtifactsSynthesized.WithLabelValues("monitor").Set(float64(gen.Monitors))
	metrics.ArtifactsSynthesized.WithLabelValues("trigger").Set(float64(gen.Triggers))
}
