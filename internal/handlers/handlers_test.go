package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/db"
	"castfeed/internal/middleware"
	"castfeed/internal/models"
	"castfeed/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

func setupTestDB(t *testing.T) {
	t.Helper()
	dsn := fmt.Sprintf("file:handlertest%d?mode=memory&cache=shared", testDBSeq.Add(1))
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

// newTestRouter 按生产装配方式搭一个最小路由
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	setupTestDB(t)

	store, err := cache.NewMemoryStore(1024)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	resolver := services.NewResolver(store, nil, nil, nil, nil)
	mutes := services.NewMuteService(store)
	query := services.NewFeedQueryService(store, resolver)
	ranker := services.NewReplyRankService(store, resolver)
	feed := services.NewFeedService(query, resolver, mutes, ranker)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.LoadViewer())

	castHandler := NewCastHandler(feed)
	userHandler := NewUserHandler(resolver, query)
	feedHandler := NewFeedHandler(feed)

	r.GET("/casts/:hash", castHandler.Get)
	r.GET("/casts/:hash/conversation", castHandler.Conversation)
	r.POST("/casts", castHandler.Batch)
	r.GET("/users/:fidOrUsername", userHandler.Get)
	r.POST("/feed/casts", feedHandler.Casts)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCastGet(t *testing.T) {
	r := newTestRouter(t)
	mustCreate := func(v interface{}) {
		if err := db.DB.Create(v).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustCreate(&models.User{Fid: 1, Fname: "alice"})
	mustCreate(&models.Cast{Hash: "0xa", Fid: 1, Text: "hello", Timestamp: time.Now().UTC()})

	w := doRequest(t, r, http.MethodGet, "/casts/0xa", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var view models.CastView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Hash != "0xa" || view.Author == nil || view.Author.Fname != "alice" {
		t.Errorf("unexpected view: %s", w.Body.String())
	}
}

func TestCastGetNotFound(t *testing.T) {
	r := newTestRouter(t)
	w := doRequest(t, r, http.MethodGet, "/casts/0xmissing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCastBatchRequiresHashesOrFilter(t *testing.T) {
	r := newTestRouter(t)
	w := doRequest(t, r, http.MethodPost, "/casts", `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestConversationRejectsUnknownSort(t *testing.T) {
	r := newTestRouter(t)
	if err := db.DB.Create(&models.Cast{Hash: "0xa", Fid: 1, Timestamp: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	w := doRequest(t, r, http.MethodGet, "/casts/0xa/conversation?sort=viral", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestFeedRejectsInvalidCursor(t *testing.T) {
	r := newTestRouter(t)
	w := doRequest(t, r, http.MethodPost, "/feed/casts", `{"cursor": "!!!bad!!!"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUserGetByFidAndName(t *testing.T) {
	r := newTestRouter(t)
	if err := db.DB.Create(&models.User{Fid: 7, Fname: "bob"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, path := range []string{"/users/7", "/users/bob"} {
		w := doRequest(t, r, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, body %s", path, w.Code, w.Body.String())
		}
		var view models.UserView
		if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if view.Fid != 7 || view.Fname != "bob" {
			t.Errorf("GET %s: unexpected view %s", path, w.Body.String())
		}
	}
}

func TestViewerHeaderAppliesMutes(t *testing.T) {
	r := newTestRouter(t)
	mustCreate := func(v interface{}) {
		if err := db.DB.Create(v).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustCreate(&models.Cast{Hash: "0xok", Fid: 1, Timestamp: time.Now().UTC().Add(-time.Minute)})
	mustCreate(&models.Cast{Hash: "0xmuted", Fid: 66, Timestamp: time.Now().UTC()})
	mustCreate(&models.Mute{ViewerFid: 9, Kind: models.MuteFid, Value: "66"})

	w := doRequest(t, r, http.MethodPost, "/feed/casts", `{}`, map[string]string{"x-viewer-fid": "9"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var page struct {
		Data []models.CastView `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].Hash != "0xok" {
		t.Errorf("mute not applied through header: %s", w.Body.String())
	}
}
