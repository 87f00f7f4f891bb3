package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

import (
	"github.com/gorilla/mux"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/api"
	"github.com/nanjiek/pixiu-gateway/internal/auth"
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/gray"
	"github.com/nanjiek/pixiu-gateway/internal/limiter"
	"github.com/nanjiek/pixiu-gateway/internal/pipeline"
	"github.com/nanjiek/pixiu-gateway/internal/store"
)

func main() {
	// 解析命令行参数
	confPath := flag.String("c", "configs/gateway.yaml", "path to config file")
	flag.Parse()

	// 加载配置（校验失败即退出，配置错误绝不留到请求期）
	cfg, err := config.Load(*confPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 初始化 Redis（分布式限流或跨实例吊销需要共享存储）
	var rdb *store.RedisRepo
	needStore := cfg.Redis.Enabled() && (cfg.RateLimit.Distributed || cfg.JWT.Enabled)
	if needStore {
		rdb, err = store.NewRedis(cfg, logger,
			store.WithDefaultTimeout(time.Duration(cfg.RateLimit.StoreTimeoutMs)*time.Millisecond))
		if err != nil {
			if cfg.RateLimit.Distributed && !cfg.RateLimit.EnableFallback {
				log.Fatalf("failed to connect redis: %v", err)
			}
			logger.Warn("redis unavailable, running local-only", "err", err)
			rdb = nil
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// -------------------------- 认证阶段 --------------------------
	var validator *auth.Validator
	var credCache *auth.CredentialCache
	if cfg.JWT.Enabled {
		credCache = auth.NewCredentialCache(cfg.JWT.CacheMaxSize)
		keys := auth.NewHTTPKeySource(cfg.JWT.JWKSUrl,
			time.Duration(cfg.JWT.JWKSTimeoutMs)*time.Millisecond,
			cfg.JWT.JWKSRefresh(), logger)
		if err := keys.Refresh(rootCtx); err != nil {
			logger.Warn("initial jwks fetch failed, will retry on demand", "err", err)
		}
		go keys.StartRefresher(rootCtx)
		validator = auth.NewValidator(cfg.JWT, credCache, keys, logger)

		if rdb != nil {
			watcher := auth.NewRevocationWatcher(rdb, credCache, logger)
			go watcher.Start(rootCtx)
		}
	}

	// -------------------------- 限流阶段 --------------------------
	var coordinator *limiter.Coordinator
	var resolver *limiter.KeyResolver
	if cfg.RateLimit.Enabled {
		local := limiter.NewLocal()
		var dist *limiter.Distributed
		var breaker limiter.Breaker
		if cfg.RateLimit.Distributed && rdb != nil {
			dist = limiter.NewDistributed(rdb)
			breaker, err = limiter.NewSentinelBreaker("redis-token-bucket")
			if err != nil {
				log.Fatalf("failed to init circuit breaker: %v", err)
			}
		}
		coordinator = limiter.NewCoordinator(cfg.RateLimit, local, dist, breaker, logger)
		resolver = limiter.NewKeyResolver(cfg.RateLimit.Bucket, cfg.RateLimit.KeyStrategy)
	}

	// -------------------------- 灰度路由 --------------------------
	var grayRouter *gray.Router
	if cfg.Gray.Enabled {
		grayRouter = gray.NewRouter(cfg.Gray, logger)
		watcher := gray.NewConfigWatcher(*confPath, grayRouter, logger)
		go watcher.Start(rootCtx)
	}

	// 显式组装管道：只装配启用的阶段，顺序固定
	chain := pipeline.Build(cfg, pipeline.Deps{
		Validator:   validator,
		Coordinator: coordinator,
		Resolver:    resolver,
		Gray:        grayRouter,
		Logger:      logger,
	})
	logger.Info("pipeline assembled", "stages", chain.Stages())

	var publisher api.RevocationPublisher
	if rdb != nil {
		publisher = rdb
	}
	httpServer := api.NewServer(cfg.Server, chain, grayRouter, credCache, publisher, logger)

	r := mux.NewRouter()
	httpServer.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("gateway is running on %s (PID: %d)", cfg.Server.HTTPAddr, os.Getpid())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down gateway...")
	cancelRoot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	log.Println("gateway exited properly")
}
