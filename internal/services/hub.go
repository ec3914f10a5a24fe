package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"castfeed/internal/models"
)

// ErrNotFound 上游确认记录不存在
var ErrNotFound = errors.New("not found")

// HubClient 协议节点的 HTTP 客户端
// 用于三类边界调用：缺失帖子的实时回源、signer 链上事件、频道目录兜底
type HubClient struct {
	hubURL string // 协议 hub 基地址
	dirURL string // 频道目录基地址
	client *http.Client
}

// NewHubClient 创建 hub 客户端，所有请求带统一超时
func NewHubClient(hubURL, dirURL string) *HubClient {
	return &HubClient{
		hubURL: hubURL,
		dirURL: dirURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// getJSON 发起 GET 并解码 JSON，404 归一化为 ErrNotFound
func (h *HubClient) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP 状态码: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// hubCast hub 返回的帖子结构
type hubCast struct {
	Hash string `json:"hash"`
	Data struct {
		Fid       uint64 `json:"fid"`
		Timestamp int64  `json:"timestamp"` // Unix 秒
		CastBody  struct {
			Text              string   `json:"text"`
			Mentions          []uint64 `json:"mentions"`
			MentionsPositions []int    `json:"mentionsPositions"`
			ParentURL         string   `json:"parentUrl"`
			ParentCastID      *struct {
				Fid  uint64 `json:"fid"`
				Hash string `json:"hash"`
			} `json:"parentCastId"`
		} `json:"castAddBody"`
	} `json:"data"`
	Signer string `json:"signer"`
}

// CastByHash 按 hash 实时回源一条帖子，主存储尚未摄取到时使用
func (h *HubClient) CastByHash(ctx context.Context, hash string) (*models.Cast, []models.CastMention, error) {
	if h.hubURL == "" {
		return nil, nil, ErrNotFound
	}
	var hc hubCast
	endpoint := fmt.Sprintf("%s/v1/castById?hash=%s", h.hubURL, url.QueryEscape(hash))
	if err := h.getJSON(ctx, endpoint, &hc); err != nil {
		return nil, nil, err
	}
	if hc.Hash == "" {
		return nil, nil, ErrNotFound
	}

	cast := &models.Cast{
		Hash:      hc.Hash,
		Fid:       hc.Data.Fid,
		Text:      hc.Data.CastBody.Text,
		Timestamp: time.Unix(hc.Data.Timestamp, 0).UTC(),
		ParentURL: hc.Data.CastBody.ParentURL,
		Signer:    hc.Signer,
	}
	if p := hc.Data.CastBody.ParentCastID; p != nil {
		cast.ParentHash = p.Hash
		cast.ParentFid = p.Fid
	}

	var mentions []models.CastMention
	for i, fid := range hc.Data.CastBody.Mentions {
		pos := 0
		if i < len(hc.Data.CastBody.MentionsPositions) {
			pos = hc.Data.CastBody.MentionsPositions[i]
		}
		mentions = append(mentions, models.CastMention{Hash: hc.Hash, Fid: fid, Position: pos})
	}
	return cast, mentions, nil
}

// hubSignerEvent 链上 signer 事件
type hubSignerEvent struct {
	Events []struct {
		SignerEventBody struct {
			Key      string `json:"key"`
			Metadata string `json:"metadata"` // hex 编码的注册元数据
		} `json:"signerEventBody"`
	} `json:"events"`
}

// SignerEventMetadata 查询 (fid, signer) 对应的链上注册事件元数据
func (h *HubClient) SignerEventMetadata(ctx context.Context, fid uint64, signer string) (string, error) {
	if h.hubURL == "" {
		return "", ErrNotFound
	}
	var ev hubSignerEvent
	endpoint := fmt.Sprintf("%s/v1/onChainSignersByFid?fid=%d&signer=%s", h.hubURL, fid, url.QueryEscape(signer))
	if err := h.getJSON(ctx, endpoint, &ev); err != nil {
		return "", err
	}
	for _, e := range ev.Events {
		if e.SignerEventBody.Key == signer && e.SignerEventBody.Metadata != "" {
			return e.SignerEventBody.Metadata, nil
		}
	}
	return "", ErrNotFound
}

// directoryChannel 频道目录返回的结构
type directoryChannel struct {
	Result struct {
		Channel struct {
			ID            string `json:"id"`
			URL           string `json:"url"`
			Name          string `json:"name"`
			Description   string `json:"description"`
			ImageURL      string `json:"imageUrl"`
			LeadFids      string `json:"leadFids"`
			FollowerCount int64  `json:"followerCount"`
		} `json:"channel"`
	} `json:"result"`
}

// ChannelByID 频道目录兜底查询，主存储没有该频道时使用
func (h *HubClient) ChannelByID(ctx context.Context, channelID string) (*models.Channel, error) {
	if h.dirURL == "" {
		return nil, ErrNotFound
	}
	var dc directoryChannel
	endpoint := fmt.Sprintf("%s/v1/channel?channelId=%s", h.dirURL, url.QueryEscape(channelID))
	if err := h.getJSON(ctx, endpoint, &dc); err != nil {
		return nil, err
	}
	ch := dc.Result.Channel
	if ch.URL == "" {
		return nil, ErrNotFound
	}
	return &models.Channel{
		URL:           ch.URL,
		ChannelID:     ch.ID,
		Name:          ch.Name,
		Description:   ch.Description,
		ImageURL:      ch.ImageURL,
		LeadFids:      ch.LeadFids,
		FollowerCount: ch.FollowerCount,
	}, nil
}
