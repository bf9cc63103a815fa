package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FileOptions configures a FileStore.
type FileOptions struct {
	// Compress writes snapshots as zstd frames. Loading detects the format,
	// so this can be toggled between runs.
	Compress bool
	// CompressionLevel is a zstd level (1-22). Zero means the default.
	CompressionLevel int
	// Atomic writes through a temporary file and a rename, so readers never
	// see a partially written snapshot.
	Atomic bool
}

// FileStore keeps one snapshot file per name in a directory.
type FileStore struct {
	dir     string
	opts    FileOptions
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.Mutex
}

// NewFileStore creates the directory if needed and prepares the codecs.
func NewFileStore(dir string, opts FileOptions) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create snapshot directory %s: %w", dir, err)
	}

	fs := &FileStore{dir: dir, opts: opts}

	var err error
	if opts.Compress {
		level := zstd.SpeedDefault
		if opts.CompressionLevel > 0 {
			level = zstd.EncoderLevelFromZstd(opts.CompressionLevel)
		}
		fs.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	fs.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return fs, nil
}

// Path returns the file used for the named snapshot.
func (fs *FileStore) Path(name string) string {
	return filepath.Join(fs.dir, name+".snapshot")
}

// Load reads the named snapshot. A missing file yields no records.
func (fs *FileStore) Load(ctx context.Context, name string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fs.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if bytes.HasPrefix(data, zstdMagic) {
		data, err = fs.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
		}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	if doc.Name != name {
		return nil, fmt.Errorf("snapshot belongs to %q", doc.Name)
	}

	return doc.Records, nil
}

// Save replaces the named snapshot.
func (fs *FileStore) Save(ctx context.Context, name string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}

	data, err := json.Marshal(document{
		Version: documentVersion,
		Name:    name,
		SavedAt: time.Now().UTC(),
		Records: records,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if fs.encoder != nil {
		data = fs.encoder.EncodeAll(data, nil)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.Path(name)
	if !fs.opts.Atomic {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		return nil
	}
	return writeFileAtomic(path, data)
}

// Close releases the codecs.
func (fs *FileStore) Close() error {
	if fs.encoder != nil {
		if err := fs.encoder.Close(); err != nil {
			return fmt.Errorf("failed to close zstd encoder: %w", err)
		}
	}
	if fs.decoder != nil {
		fs.decoder.Close()
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

var _ SnapshotStore = (*FileStore)(nil)
