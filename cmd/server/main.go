package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"castfeed/internal/cache"
	"castfeed/internal/db"
	"castfeed/internal/router"
	"castfeed/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}

	// Initialize Database
	db.Init()

	// 缓存后端：配置了 REDIS_URL 就用 Redis，否则进程内 LRU
	var store cache.Store
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rs, err := cache.NewRedisStore(redisURL, os.Getenv("CACHE_PREFIX"))
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rs.Close()
		store = rs
		log.Println("Cache backend: redis")
	} else {
		ms, err := cache.NewMemoryStore(65536)
		if err != nil {
			log.Fatalf("Failed to create memory cache: %v", err)
		}
		store = ms
		log.Println("Cache backend: in-process LRU")
	}

	// Hub 客户端与各服务
	hub := services.NewHubClient(os.Getenv("HUB_URL"), os.Getenv("CHANNEL_DIRECTORY_URL"))
	attribution := services.NewAttributionService(hub, store)
	embeds := services.NewEmbedService(store)
	resolver := services.NewResolver(store, hub, hub, attribution, embeds)
	mutes := services.NewMuteService(store)
	query := services.NewFeedQueryService(store, resolver)
	ranker := services.NewReplyRankService(store, resolver)
	feed := services.NewFeedService(query, resolver, mutes, ranker)

	// Initialize Gin
	r := gin.Default()
	router.RegisterRoutes(r, feed, resolver, query)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("CastFeed server starting on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出：等待信号后给在途请求 10 秒收尾
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
