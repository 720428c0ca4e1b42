package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/handler"
	"mediacredits/internal/infrastructure/cache"
	"mediacredits/internal/infrastructure/database"
	"mediacredits/internal/infrastructure/mq"
	"mediacredits/internal/job"
	"mediacredits/internal/mediaserver"
	"mediacredits/internal/repository"
	"mediacredits/internal/service"
	"mediacredits/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化 ID 生成器
	idgen.Init(cfg.Server.WorkerID)

	// 初始化 MySQL
	db, err := database.NewMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatalf("初始化 MySQL 失败: %v", err)
	}

	// 初始化 Redis
	redisClient, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("初始化 Redis 失败: %v", err)
	}
	defer redisClient.Close()

	// 初始化 Kafka
	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		log.Fatalf("初始化 Kafka 失败: %v", err)
	}
	defer producer.Close()

	// 组装服务
	st := repository.NewStore(db)
	media := mediaserver.NewRegistryFromConfig(&cfg.Media)
	identity := service.NewIdentityResolver(st, media, cache.NewNameCache(redisClient, cfg.Economy.NameCacheTTL))

	services := &handler.Services{
		Ledger:  service.NewLedgerService(st, cfg, identity),
		Access:  service.NewAccessService(st, cfg, media),
		Auction: service.NewAuctionService(st, cfg, redisClient, identity),
		Wheel:   service.NewWheelService(st, cfg, nil, redisClient),
		Invite:  service.NewInviteService(st, cfg),
		Traffic: service.NewTrafficService(st, cfg),
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(st, producer, cfg)
	go outboxSender.Start(ctx)

	expirySweep := job.NewExpirySweepJob(services.Auction, services.Access, redisClient, cfg)
	go expirySweep.Start(ctx)

	trafficBilling := job.NewTrafficBillingJob(services.Traffic, cfg)
	go trafficBilling.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(services, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
