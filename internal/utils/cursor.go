package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor 游标损坏或不是本服务签发的
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor 分页游标的字段集合
// 时间序分页只用 Timestamp；排序后的回复分页用 Score+Hash
type Cursor struct {
	Timestamp int64  `json:"t,omitempty"` // Unix 毫秒
	Score     int64  `json:"s,omitempty"`
	Hash      string `json:"h,omitempty"`
}

// EncodeCursor 编码为不透明的 base64 token，客户端不应解析其内容
func EncodeCursor(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor 解码 token，空串返回零值游标
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	if token == "" {
		return c, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return c, nil
}
