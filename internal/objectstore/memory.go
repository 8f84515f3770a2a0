package objectstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type storedObject struct {
	data    []byte
	version int64
}

// MemoryStore is a thread-safe in-memory Store for tests and local runs
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

// NewMemoryStore returns a ready-to-use MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject)}
}

// Get returns a copy of the object stored under key
func (s *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return &Object{Key: key, Data: data, ETag: formatETag(obj.version)}, nil
}

// Put stores data under key, honoring the conditional options
func (s *MemoryStore) Put(_ context.Context, key string, data []byte, opts PutOptions) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[key]
	if opts.IfNoneMatch && exists {
		return "", ErrPreconditionFailed
	}
	if opts.IfMatch != "" && (!exists || formatETag(current.version) != opts.IfMatch) {
		return "", ErrPreconditionFailed
	}

	var version int64 = 1
	if exists {
		version = current.version + 1
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[key] = &storedObject{data: stored, version: version}

	return formatETag(version), nil
}

// List returns up to limit keys under prefix after startAfter
func (s *MemoryStore) List(_ context.Context, prefix, startAfter string, limit int) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0)
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) && k > startAfter {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func formatETag(version int64) string {
	return strconv.FormatInt(version, 10)
}
