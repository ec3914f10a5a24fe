package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// SchemaVersion 缓存记录的结构版本号
// 版本不一致的记录按 miss 处理，避免旧格式的"半成品"被直接返回
const SchemaVersion = 1

// Store 主存储前面的批量 KV 缓存层
// 读失败对调用方不致命（降级为 miss），写失败记日志后吞掉
// 并发写按 last-write-wins 处理：所有写入都是同一逻辑值的幂等重算
type Store interface {
	// BatchGet 批量读，返回命中的 key -> 原始值
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)
	// BatchSet 批量写，统一 TTL（0 表示不过期）
	BatchSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
}

// envelope 缓存值的统一包装：版本号 + 负缓存标记 + 数据
type envelope struct {
	V      int             `json:"v"`
	Absent bool            `json:"a,omitempty"`
	Data   json.RawMessage `json:"d,omitempty"`
}

// BatchGetJSON 批量读并解码，只返回版本匹配的正缓存命中
// 任何读取或解码失败都降级为 miss
func BatchGetJSON[T any](ctx context.Context, s Store, keys []string) map[string]*T {
	out := make(map[string]*T)
	if s == nil || len(keys) == 0 {
		return out
	}
	raw, err := s.BatchGet(ctx, keys)
	if err != nil {
		log.Printf("cache read failed, treating %d keys as miss: %v", len(keys), err)
		return out
	}
	for key, data := range raw {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.V != SchemaVersion || env.Absent {
			continue
		}
		var v T
		if err := json.Unmarshal(env.Data, &v); err != nil {
			continue
		}
		out[key] = &v
	}
	return out
}

// BatchSetJSON 批量编码写入，失败记日志后吞掉
func BatchSetJSON[T any](ctx context.Context, s Store, entries map[string]*T, ttl time.Duration) {
	if s == nil || len(entries) == 0 {
		return
	}
	raw := make(map[string][]byte, len(entries))
	for key, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		env, err := json.Marshal(envelope{V: SchemaVersion, Data: data})
		if err != nil {
			continue
		}
		raw[key] = env
	}
	if err := s.BatchSet(ctx, raw, ttl); err != nil {
		log.Printf("cache write failed for %d keys: %v", len(raw), err)
	}
}

// GetJSON 单 key 读
func GetJSON[T any](ctx context.Context, s Store, key string) *T {
	return BatchGetJSON[T](ctx, s, []string{key})[key]
}

// SetJSON 单 key 写
func SetJSON[T any](ctx context.Context, s Store, key string, v *T, ttl time.Duration) {
	BatchSetJSON(ctx, s, map[string]*T{key: v}, ttl)
}

// MarkAbsent 写入负缓存（确认不存在的 key），与"尚未查过"可区分
func MarkAbsent(ctx context.Context, s Store, keys []string, ttl time.Duration) {
	if s == nil || len(keys) == 0 {
		return
	}
	env, _ := json.Marshal(envelope{V: SchemaVersion, Absent: true})
	raw := make(map[string][]byte, len(keys))
	for _, key := range keys {
		raw[key] = env
	}
	if err := s.BatchSet(ctx, raw, ttl); err != nil {
		log.Printf("cache write failed for %d absent marks: %v", len(keys), err)
	}
}

// IsMarkedAbsent 查询哪些 key 已被标记为确认不存在
func IsMarkedAbsent(ctx context.Context, s Store, keys []string) map[string]bool {
	out := make(map[string]bool)
	if s == nil || len(keys) == 0 {
		return out
	}
	raw, err := s.BatchGet(ctx, keys)
	if err != nil {
		log.Printf("cache read failed, treating %d keys as miss: %v", len(keys), err)
		return out
	}
	for key, data := range raw {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.V == SchemaVersion && env.Absent {
			out[key] = true
		}
	}
	return out
}
