package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"IntentChain/internal/api"
	"IntentChain/internal/collector"
	"IntentChain/internal/config"
	"IntentChain/internal/execution"
	"IntentChain/internal/intent"
	"IntentChain/internal/ledger/provider"
	"IntentChain/internal/lexicon"
	"IntentChain/internal/llm/openai"
	"IntentChain/internal/pipeline"
	"IntentChain/internal/template"
	"IntentChain/pkg/logger"
)

// main 是 IntentChain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("intentchaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("INTENTCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "intentchain.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 初始化大模型客户端,补全与向量化共用同一个 OpenAI 客户端。
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 模板库存储。
	var templateStore template.Store
	switch cfg.Storage.Driver {
	case "", "memory":
		templateStore = template.NewMemoryStore()
	case "mysql":
		store, err := template.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		templateStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		_ = templateStore.Close()
	}()

	registry := template.NewRegistry(templateStore, llmClient,
		template.WithSimilarityFloor(cfg.Pipeline.RetrievalThreshold),
		template.WithCacheTTL(time.Duration(cfg.Pipeline.RegistryCacheSeconds)*time.Second),
	)

	// 链客户端。
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	defaultClient, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	// 降级词表。
	var lex *lexicon.Lexicon
	if cfg.Lexicon.Source != "" {
		loaded, err := lexicon.Load(cfg.Lexicon.Source, cfg.Lexicon.MaxQueries)
		if err != nil {
			return err
		}
		lex = loaded
	} else {
		lex = lexicon.Default(cfg.Lexicon.MaxQueries)
	}

	// 参数采集器。
	collectors := collector.NewRegistry()
	cacheTTL := time.Duration(cfg.Collectors.CacheTTLSeconds) * time.Second
	collectorTimeout := time.Duration(cfg.Collectors.TimeoutSeconds) * time.Second
	if err := collectors.Register(collector.NewWalletBalances(defaultClient)); err != nil {
		return err
	}
	if cfg.Collectors.PoolEndpoint != "" {
		dex, err := collector.NewDexPools(cfg.Collectors.PoolEndpoint, cacheTTL, collectorTimeout)
		if err != nil {
			return err
		}
		if err := collectors.Register(dex); err != nil {
			return err
		}
	}
	if cfg.Collectors.PriceEndpoint != "" {
		price, err := collector.NewTokenPrice(cfg.Collectors.PriceEndpoint, cacheTTL, collectorTimeout)
		if err != nil {
			return err
		}
		if err := collectors.Register(price); err != nil {
			return err
		}
	}

	llmTimeout := cfg.LLM.OpenAI.Timeout()
	decomposer := intent.NewDecomposer(llmClient, lex,
		intent.WithTimeout(llmTimeout),
		intent.WithMaxQueries(cfg.Lexicon.MaxQueries),
	)
	extractor := intent.NewExtractor(llmClient, llmTimeout)

	compilePipeline := pipeline.New(registry, decomposer, extractor, collectors, pipeline.Options{
		AcceptThreshold:  cfg.Pipeline.AcceptThreshold,
		OperationLimit:   cfg.Pipeline.OperationLimit,
		MaxScriptOps:     cfg.Pipeline.MaxScriptOps,
		MinTrustScore:    cfg.Pipeline.MinTrustScore,
		DedupGrace:       time.Duration(cfg.Pipeline.DedupGraceSeconds) * time.Second,
		CollectorTimeout: collectorTimeout,
	})

	// 提交审计与异步广播。
	var executionStore execution.Store
	switch cfg.Storage.Driver {
	case "", "memory":
		executionStore = execution.NewMemoryStore()
	case "mysql":
		store, err := execution.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		executionStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}

	var executionQueue execution.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		executionQueue = execution.NewMemoryQueue(1024)
	case "redis":
		queue, err := execution.NewRedisQueue(execution.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		executionQueue = queue
	case "rabbitmq":
		queue, err := execution.NewRabbitMQQueue(execution.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		executionQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}

	executionService := execution.NewService(executionStore, executionQueue, cfg.Storage.MaxRetries)
	defer func() {
		_ = executionService.Close()
	}()

	processor := execution.NewProcessor(chainRegistry, executionStore, executionQueue, executionQueue,
		execution.WithWorkerCount(cfg.Queue.Worker),
		execution.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	if _, err := processor.RecoverStuck(ctx, 5*time.Minute); err != nil {
		log.Printf("恢复滞留提交记录失败: %v", err)
	}

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("提交处理器异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, compilePipeline, executionService)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (*openai.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:         apiKey,
			BaseURL:        cfg.LLM.OpenAI.BaseURL,
			Model:          cfg.LLM.OpenAI.Model,
			EmbeddingModel: cfg.LLM.OpenAI.EmbeddingModel,
			Timeout:        cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
