package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/db"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// setupTestDB 把全局连接换成独立的内存 sqlite，用例结束后还原
func setupTestDB(t *testing.T) {
	t.Helper()
	dsn := fmt.Sprintf("file:svctest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	d, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := db.DB
	db.DB = d
	t.Cleanup(func() { db.DB = prev })
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewMemoryStore(1024)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	return store
}

func mustCreate(t *testing.T, value interface{}) {
	t.Helper()
	if err := db.DB.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

// 种子数据的基准时间，秒级偏移
var testEpoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return testEpoch.Add(time.Duration(sec) * time.Second)
}
