/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File names used by FileSnapshotStore.
const (
	EntriesFileName = "cache_entries.json"
	MetaFileName    = "cache_meta.json"
)

// FileSnapshotStoreOpts represents options for FileSnapshotStore.
type FileSnapshotStoreOpts struct {
	// MaxSnapshotSize is the maximum accepted size of each snapshot file. 0 means no limit.
	MaxSnapshotSize int64
}

// FileSnapshotStore keeps a snapshot as two JSON files in a directory: one with entries and one with
// timestamps and counters. Each file is replaced atomically. Both files carry the snapshot generation,
// a mismatch means the process died between the two writes and the snapshot is treated as corrupted.
type FileSnapshotStore struct {
	dir  string
	opts FileSnapshotStoreOpts
}

var _ SnapshotStore = (*FileSnapshotStore)(nil)

type entriesFile struct {
	Generation uint64          `json:"generation"`
	Entries    []SnapshotEntry `json:"entries"`
}

// NewFileSnapshotStore creates the directory if needed and returns a store working in it.
func NewFileSnapshotStore(dir string, opts FileSnapshotStoreOpts) (*FileSnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileSnapshotStore{dir: dir, opts: opts}, nil
}

// Dir returns the snapshot directory.
func (s *FileSnapshotStore) Dir() string {
	return s.dir
}

// Load implements SnapshotStore.
func (s *FileSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	entriesData, err := s.readFile(EntriesFileName)
	if err != nil {
		return nil, err
	}
	metaData, err := s.readFile(MetaFileName)
	if err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	var ef entriesFile
	if err = json.Unmarshal(entriesData, &ef); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrSnapshotCorrupted, EntriesFileName, err)
	}
	var meta SnapshotMeta
	if err = json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrSnapshotCorrupted, MetaFileName, err)
	}
	if ef.Generation != meta.Generation {
		return nil, fmt.Errorf("%w: generation mismatch (entries %d, meta %d)",
			ErrSnapshotCorrupted, ef.Generation, meta.Generation)
	}
	return &Snapshot{Entries: ef.Entries, Meta: meta}, nil
}

// Save implements SnapshotStore. Entries are written before meta.
func (s *FileSnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	entries := snapshot.Entries
	if entries == nil {
		entries = []SnapshotEntry{}
	}
	entriesData, err := json.Marshal(entriesFile{Generation: snapshot.Meta.Generation, Entries: entries})
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	metaData, err := json.Marshal(snapshot.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = s.writeFileAtomic(EntriesFileName, entriesData); err != nil {
		return err
	}
	return s.writeFileAtomic(MetaFileName, metaData)
}

func (s *FileSnapshotStore) readFile(name string) ([]byte, error) {
	path := filepath.Join(s.dir, name)
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if s.opts.MaxSnapshotSize > 0 && fi.Size() > s.opts.MaxSnapshotSize {
		return nil, fmt.Errorf("%w: %s size %d exceeds limit %d",
			ErrSnapshotCorrupted, name, fi.Size(), s.opts.MaxSnapshotSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (s *FileSnapshotStore) writeFileAtomic(name string, data []byte) (err error) {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
