package utils

import (
	"strconv"
	"strings"
)

// StringToUint64 converts string to uint64, returns 0 if error
func StringToUint64(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SplitFids 解析逗号分隔的 fid 列表（频道主持人字段用）
func SplitFids(s string) []uint64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	fids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		if v := StringToUint64(strings.TrimSpace(p)); v != 0 {
			fids = append(fids, v)
		}
	}
	return fids
}

// UniqueFids 去重并保持顺序
func UniqueFids(fids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(fids))
	out := make([]uint64, 0, len(fids))
	for _, f := range fids {
		if f == 0 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// UniqueStrings 去重并保持顺序
func UniqueStrings(vals []string) []string {
	seen := make(map[string]bool, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
