package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/models"

	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"
)

// EmbedService 外部链接的内容元数据解析
// 使用 go-readability 提取标题/摘要/首图，bluemonday 清洗文本
type EmbedService struct {
	client    *http.Client
	sanitizer *bluemonday.Policy
	store     cache.Store
	ttl       time.Duration
}

func NewEmbedService(store cache.Store) *EmbedService {
	return &EmbedService{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		sanitizer: bluemonday.StrictPolicy(), // 元数据只保留纯文本
		store:     store,
		ttl:       6 * time.Hour,
	}
}

func embedCacheKey(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return "embed:" + hex.EncodeToString(sum[:])
}

// Resolve 批量解析 URL 元数据，抓取失败的 URL 返回只含 URL 的占位对象
func (s *EmbedService) Resolve(ctx context.Context, urls []string) map[string]*models.EmbedMetadata {
	out := make(map[string]*models.EmbedMetadata, len(urls))
	if len(urls) == 0 {
		return out
	}

	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = embedCacheKey(u)
	}
	cached := cache.BatchGetJSON[models.EmbedMetadata](ctx, s.store, keys)

	var misses []string
	for i, u := range urls {
		if meta := cached[keys[i]]; meta != nil {
			out[u] = meta
		} else {
			misses = append(misses, u)
		}
	}

	// 未命中的并发抓取，限并发数
	toStore := make(map[string]*models.EmbedMetadata, len(misses))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, u := range misses {
		g.Go(func() error {
			meta, err := s.fetch(gctx, u)
			if err != nil {
				// 软失败：保留原始 URL，不阻塞水合
				meta = &models.EmbedMetadata{URL: u}
			}
			mu.Lock()
			out[u] = meta
			toStore[embedCacheKey(u)] = meta
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	cache.BatchSetJSON(ctx, s.store, toStore, s.ttl)
	return out
}

// fetch 抓取页面并提取元数据
func (s *EmbedService) fetch(ctx context.Context, rawURL string) (*models.EmbedMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码: %d", resp.StatusCode)
	}

	// 上限 2MB，避免超大响应拖垮水合
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("解析页面失败: %w", err)
	}

	return &models.EmbedMetadata{
		URL:         rawURL,
		Title:       strings.TrimSpace(s.sanitizer.Sanitize(article.Title)),
		Description: strings.TrimSpace(s.sanitizer.Sanitize(article.Excerpt)),
		Image:       article.Image,
	}, nil
}
