package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kbase/internal/config"
	"kbase/internal/database"
	"kbase/internal/logger"
	"kbase/internal/logic"
	"kbase/internal/model"
	"kbase/internal/redis"
	"kbase/internal/svc"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.Init(&cfg.Log)
	defer logger.Sync()

	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer database.Close()

	if err := database.GetDB().AutoMigrate(
		&model.TDataset{},
		&model.TUploadFile{},
		&model.TProcessRule{},
		&model.TDocument{},
		&model.TSegment{},
		&model.TKeywordTable{},
	); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	if err := redis.Init(&cfg.Redis); err != nil {
		logger.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer redis.Close()

	svc.Init(cfg, database.GetDB(), redis.GetClient())

	vectors, err := logic.NewQdrantStore(cfg.Qdrant)
	if err != nil {
		logger.Fatal("初始化向量存储失败", zap.Error(err))
	}

	embedder := logic.NewCachedEmbedder(
		logic.NewOpenAIEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model),
		redis.GetClient(),
		time.Duration(cfg.Embedding.CacheTTL)*time.Second,
	)
	locker := logic.NewRedisLocker(redis.GetClient())
	keywords := logic.NewKeywordStore(database.GetDB(), locker, time.Duration(cfg.Indexing.LockExpiry)*time.Second)
	loader := logic.NewLocalFileLoader(cfg.Storage.Local.BasePath)

	runner := logic.NewIndexingRunner(
		database.GetDB(),
		loader,
		embedder,
		vectors,
		keywords,
		locker,
		cfg.Indexing,
	)
	queue := logic.NewTaskQueue(redis.GetClient(), cfg.Indexing.TaskQueue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		logger.Info("收到退出信号，停止消费任务", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("索引 worker 启动",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("queue", cfg.Indexing.TaskQueue))

	pollTimeout := time.Duration(cfg.Indexing.TaskPollTimeout) * time.Second
	for {
		select {
		case <-ctx.Done():
			logger.Info("索引 worker 已退出")
			return
		default:
		}

		task, err := queue.Poll(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("拉取索引任务失败", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		logger.Info("开始处理索引任务",
			zap.Int64("dataset_id", task.DatasetID),
			zap.Int64s("document_ids", task.DocumentIDs),
			zap.String("batch", task.Batch))

		if err := runner.Run(ctx, task.DatasetID, task.DocumentIDs); err != nil {
			logger.Error("索引任务执行失败",
				zap.Int64("dataset_id", task.DatasetID),
				zap.Error(err))
		}
	}
}
