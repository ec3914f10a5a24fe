package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryItem 包装缓存数据和过期时间
type memoryItem struct {
	data      []byte
	expiresAt time.Time // 零值表示不过期
}

// MemoryStore 进程内 LRU 缓存，默认后端
type MemoryStore struct {
	lruCache *lru.Cache[string, memoryItem]
}

// NewMemoryStore 创建指定容量的 LRU 缓存
func NewMemoryStore(size int) (*MemoryStore, error) {
	l, err := lru.New[string, memoryItem](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{lruCache: l}, nil
}

func (m *MemoryStore) BatchGet(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	now := time.Now()
	for _, key := range keys {
		item, ok := m.lruCache.Get(key)
		if !ok {
			continue
		}
		// 惰性过期
		if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
			m.lruCache.Remove(key)
			continue
		}
		out[key] = item.data
	}
	return out, nil
}

func (m *MemoryStore) BatchSet(_ context.Context, entries map[string][]byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	for key, data := range entries {
		m.lruCache.Add(key, memoryItem{data: data, expiresAt: expiresAt})
	}
	return nil
}
