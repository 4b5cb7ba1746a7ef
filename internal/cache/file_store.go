package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".json"

// FileStore keeps one file per key under <dir>/<bucket>/, so cached element
// sets survive restarts.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the root directory.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) bucketDir(bucket Bucket) string {
	return filepath.Join(f.dir, string(bucket))
}

func (f *FileStore) path(bucket Bucket, key string) string {
	return filepath.Join(f.bucketDir(bucket), url.PathEscape(key)+fileExt)
}

func (f *FileStore) Get(ctx context.Context, bucket Bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(bucket, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return data, nil
}

// Put writes through a temporary file and renames it into place, so readers
// never see a partial value.
func (f *FileStore) Put(ctx context.Context, bucket Bucket, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := f.bucketDir(bucket)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(bucket, key)); err != nil {
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, bucket Bucket, key string) error {
	err := os.Remove(f.path(bucket, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(_ context.Context, bucket Bucket) error {
	if err := os.RemoveAll(f.bucketDir(bucket)); err != nil {
		return fmt.Errorf("clearing cache bucket %s: %w", bucket, err)
	}
	return nil
}

func (f *FileStore) Keys(_ context.Context, bucket Bucket) ([]string, error) {
	entries, err := os.ReadDir(f.bucketDir(bucket))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
