package dictionary

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
)

//go:embed default.yaml
var defaultDocument []byte

// Default returns the built-in starter dictionary.
func Default() *Snapshot {
	doc, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("built-in dictionary is invalid: %v", err))
	}
	return buildSnapshot(doc)
}

// Load reads and validates a dictionary file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewConfigError("dictionary", fmt.Sprintf("dictionary file %s not found", path), err)
		}
		return nil, fmt.Errorf("failed to read dictionary %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, apperrors.NewConfigError("dictionary", fmt.Sprintf("dictionary file %s is invalid", path), err)
	}
	return buildSnapshot(doc), nil
}

// Save writes a snapshot to path, replacing the file atomically.
func Save(path string, snap *Snapshot) error {
	data, err := snap.doc.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dictionary directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace dictionary: %w", err)
	}
	return nil
}

// Store holds the active snapshot. Update is the only way to change it.
type Store struct {
	path    string
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewStore wraps an initial snapshot. An empty path keeps the store in memory.
func NewStore(path string, initial *Snapshot) *Store {
	s := &Store{path: path}
	s.current.Store(initial)
	return s
}

// Open loads the dictionary at path into a store.
func Open(path string) (*Store, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, snap), nil
}

// Path returns the backing file, or "" for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Update applies fn to a copy of the active document. When fn reports a change
// the patch version is bumped, the document is validated and persisted, and
// the new snapshot becomes active. Otherwise the active snapshot is returned.
func (s *Store) Update(ctx context.Context, fn func(doc *Document) (bool, error)) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.current.Load()
	doc := active.doc.Clone()
	changed, err := fn(&doc)
	if err != nil {
		return active, err
	}
	if !changed {
		return active, nil
	}

	version, err := ParseVersion(active.doc.Version)
	if err != nil {
		return active, err
	}
	doc.Version = version.BumpPatch().String()
	if err := doc.Validate(); err != nil {
		return active, fmt.Errorf("dictionary update rejected: %w", err)
	}

	next := buildSnapshot(doc)
	if err := s.persist(next); err != nil {
		return active, err
	}
	s.current.Store(next)

	logging.FromContext(ctx).Info().
		Str("from", active.doc.Version).
		Str("to", doc.Version).
		Msg("Dictionary updated")
	return next, nil
}

// Restore rolls back to the content of snap under a new patch version, so a
// version string never names two different documents. It returns the snapshot
// that became active.
func (s *Store) Restore(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	if snap == nil {
		return nil, apperrors.NewValidationError("snapshot", nil, "cannot restore a nil snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.current.Load()
	latest := active.doc.Version
	if CompareVersions(snap.doc.Version, latest) > 0 {
		latest = snap.doc.Version
	}
	version, err := ParseVersion(latest)
	if err != nil {
		return active, err
	}
	doc := snap.doc.Clone()
	doc.Version = version.BumpPatch().String()

	next := buildSnapshot(doc)
	if err := s.persist(next); err != nil {
		return active, err
	}
	s.current.Store(next)

	logging.FromContext(ctx).Warn().
		Str("from", active.Version()).
		Str("checkpoint", snap.Version()).
		Str("to", next.Version()).
		Msg("Dictionary restored from checkpoint")
	return next, nil
}

func (s *Store) persist(snap *Snapshot) error {
	if s.path == "" {
		return nil
	}
	return Save(s.path, snap)
}
