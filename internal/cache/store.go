package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Bucket partitions the keyspace of a Store.
type Bucket string

const (
	BucketTLE     Bucket = "tle"
	BucketGeneric Bucket = "generic"
)

// Buckets lists every bucket the cache writes to.
var Buckets = []Bucket{BucketTLE, BucketGeneric}

// ErrNotFound is returned by a Store when a key is absent.
var ErrNotFound = errors.New("cache: key not found")

// Store is the persistence capability behind an ElementCache. Values are
// opaque bytes; the cache owns their encoding.
type Store interface {
	Get(ctx context.Context, bucket Bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket Bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket Bucket, key string) error
	Clear(ctx context.Context, bucket Bucket) error
	Keys(ctx context.Context, bucket Bucket) ([]string, error)
}

// MemoryStore keeps values in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Bucket]map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Bucket]map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, bucket Bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(_ context.Context, bucket Bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.data[bucket] = b
	}
	b[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, bucket Bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[bucket], key)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, bucket Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, bucket)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, bucket Bucket) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[bucket]))
	for k := range m.data[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
