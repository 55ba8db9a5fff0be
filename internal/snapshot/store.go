package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zstd"
)

// Store persists the last-known-good snapshot. Full-bucket listings are
// large and highly repetitive (long shared key prefixes), so the JSON
// serialization is zstd-compressed on disk.
//
// Save replaces the file atomically via temp-file-plus-rename, the same
// contract as the identifier map store: a reader sees either the previous
// snapshot or the new one, never a torn write.
type Store struct {
	fs   billy.Filesystem
	path string
	mu   sync.RWMutex

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates a snapshot store persisting to path on fs.
func NewStore(fs billy.Filesystem, path string) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &Store{fs: fs, path: path, enc: enc, dec: dec}, nil
}

// Load reads the persisted snapshot. A missing file is the first-run case
// and yields an empty snapshot.
func (s *Store) Load() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	compressed, err := util.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Save atomically replaces the persisted snapshot with snap.
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	compressed := s.enc.EncodeAll(data, nil)

	tmpPath := s.path + ".tmp"
	if err := util.WriteFile(s.fs, tmpPath, compressed, 0600); err != nil {
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("rename snapshot file: %w", err)
	}
	return nil
}
