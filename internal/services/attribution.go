package services

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"castfeed/internal/cache"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// AttributionSource signer 链上事件的外部来源，热路径上唯一的无界外部调用
type AttributionSource interface {
	SignerEventMetadata(ctx context.Context, fid uint64, signer string) (string, error)
}

// ErrCircuitOpen 熔断器打开时拒绝请求
var ErrCircuitOpen = errors.New("attribution circuit open")

// circuitBreaker 针对 RPC 依赖的简易熔断：连续失败后打开，冷却后放一个探测请求
type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time

	threshold int
	cooldown  time.Duration
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// allow 返回当前是否放行请求
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if time.Now().After(b.openUntil) {
		// 半开：放一个探测请求，失败则重新计时
		b.openUntil = time.Now().Add(b.cooldown)
		return true
	}
	return false
}

func (b *circuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && !errors.Is(err, ErrNotFound) {
		b.failures++
		if b.failures == b.threshold {
			b.openUntil = time.Now().Add(b.cooldown)
		}
		return
	}
	b.failures = 0
}

// SignerRef 发帖账号与签名 key 的组合
type SignerRef struct {
	Fid    uint64
	Signer string
}

// AttributionService 把 signer 映射到创建它的客户端应用 fid
// 映射一经分配不可变，缓存不设过期；并发同 key 请求用 singleflight 合并
type AttributionService struct {
	source  AttributionSource
	store   cache.Store
	group   singleflight.Group
	breaker *circuitBreaker
	timeout time.Duration
}

func NewAttributionService(source AttributionSource, store cache.Store) *AttributionService {
	return &AttributionService{
		source:  source,
		store:   store,
		breaker: newCircuitBreaker(5, 30*time.Second),
		timeout: 5 * time.Second,
	}
}

func signerCacheKey(signer string) string {
	return fmt.Sprintf("signer:%s", strings.ToLower(signer))
}

// ResolveAppFids 批量解析 signer -> app fid
// 解析失败的 signer 在结果中缺省（软失败），不影响整体水合
func (s *AttributionService) ResolveAppFids(ctx context.Context, refs []SignerRef) map[string]uint64 {
	out := make(map[string]uint64, len(refs))
	if len(refs) == 0 {
		return out
	}

	// 去重并查缓存
	distinct := make(map[string]SignerRef, len(refs))
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.Signer == "" {
			continue
		}
		if _, ok := distinct[r.Signer]; ok {
			continue
		}
		distinct[r.Signer] = r
		keys = append(keys, signerCacheKey(r.Signer))
	}
	cached := cache.BatchGetJSON[uint64](ctx, s.store, keys)
	for signer, r := range distinct {
		if v := cached[signerCacheKey(r.Signer)]; v != nil {
			out[signer] = *v
			delete(distinct, signer)
		}
	}

	// 其余并发走 RPC，限并发数；singleflight 合并同 key 的重复请求
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for signer, ref := range distinct {
		g.Go(func() error {
			appFid, err := s.resolveOne(gctx, ref)
			if err != nil {
				// 软失败：app fid 缺省，不让整次解析失败
				if !errors.Is(err, ErrNotFound) {
					log.Printf("attribution lookup failed for signer %s: %v", signer, err)
				}
				return nil
			}
			mu.Lock()
			out[signer] = appFid
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *AttributionService) resolveOne(ctx context.Context, ref SignerRef) (uint64, error) {
	v, err, _ := s.group.Do(ref.Signer, func() (interface{}, error) {
		if !s.breaker.allow() {
			return nil, ErrCircuitOpen
		}
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		metadata, err := s.source.SignerEventMetadata(callCtx, ref.Fid, ref.Signer)
		s.breaker.record(err)
		if err != nil {
			return nil, err
		}

		appFid, err := decodeRequestFid(metadata)
		if err != nil {
			return nil, err
		}

		// 映射不可变，永久缓存
		cache.SetJSON(ctx, s.store, signerCacheKey(ref.Signer), &appFid, 0)
		return appFid, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// decodeRequestFid 从注册事件元数据解出请求方应用的 fid
// 元数据为 ABI 编码：第一个 32 字节字是偏移，第二个字是 requestFid，
// 取其末 8 字节按大端解析
func decodeRequestFid(metadata string) (uint64, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(metadata, "0x"))
	if err != nil {
		return 0, fmt.Errorf("解析元数据失败: %w", err)
	}
	if len(raw) < 64 {
		return 0, fmt.Errorf("元数据长度不足: %d", len(raw))
	}
	return binary.BigEndian.Uint64(raw[56:64]), nil
}
