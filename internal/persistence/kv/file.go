package kv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/klauspost/compress/zstd"
)

// FileStore keeps one zstd-compressed file per key. Writes go to a temp file that is
// renamed over the old one, so a crash leaves either the old or the new value.
type FileStore struct {
	dir string
	// MaxBytes rejects uncompressed values larger than this when positive.
	MaxBytes int
}

func OpenFile(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("kv: empty dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json.zst")
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	b, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return b, nil
}

func (s *FileStore) Put(ctx context.Context, key string, val []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.MaxBytes > 0 && len(val) > s.MaxBytes {
		return fmt.Errorf("put %s (%d bytes): %w", key, len(val), ErrQuotaExceeded)
	}
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return quota(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeCompressed(tmp, val); err != nil {
		_ = tmp.Close()
		return quota(fmt.Errorf("write %s: %w", key, err))
	}
	if err := tmp.Close(); err != nil {
		return quota(err)
	}
	return os.Rename(tmpName, s.path(key))
}

func writeCompressed(f *os.File, val []byte) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if _, err := bw.Write(val); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// quota maps a full disk onto ErrQuotaExceeded.
func quota(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

func (s *FileStore) Close() error { return nil }
