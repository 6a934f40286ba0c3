package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 IntentChain 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	LLM        LLMConfig        `json:"llm"`
	Ledger     LedgerConfig     `json:"ledger"`
	Queue      QueueConfig      `json:"queue"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Collectors CollectorsConfig `json:"collectors"`
	Lexicon    LexiconConfig    `json:"lexicon"`
	Log        LogConfig        `json:"log"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述模板库与执行审计记录的存储后端。
type StorageConfig struct {
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	MaxRetries int    `json:"max_retries"`
}

// LLMConfig 用于配置大模型推理与文本向量化的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述通过 OpenAI 兼容接口完成推理与向量化所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	EmbeddingModel string `json:"embedding_model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 将超时配置转换为 time.Duration。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LedgerConfig 包含访问区块链节点所需的链定义文件与默认链。
type LedgerConfig struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// QueueConfig 描述签名提交队列的驱动与连接信息。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// PipelineConfig 控制意图编译流水线的阈值与限制。
type PipelineConfig struct {
	RetrievalThreshold   float64 `json:"retrieval_threshold"`
	AcceptThreshold      float64 `json:"accept_threshold"`
	OperationLimit       int     `json:"operation_limit"`
	MaxScriptOps         int     `json:"max_script_ops"`
	MinTrustScore        float64 `json:"min_trust_score"`
	DedupGraceSeconds    int     `json:"dedup_grace_seconds"`
	RegistryCacheSeconds int     `json:"registry_cache_seconds"`
}

// CollectorsConfig 描述辅助数据采集器访问外部服务的端点。
type CollectorsConfig struct {
	PoolEndpoint    string `json:"pool_endpoint"`
	PriceEndpoint   string `json:"price_endpoint"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// LexiconConfig 指定意图拆分降级路径使用的关键词词表。
type LexiconConfig struct {
	Source     string `json:"source"`
	MaxQueries int    `json:"max_queries"`
}

// LogConfig 控制日志输出格式与审计日志。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxRetries <= 0 {
		c.Storage.MaxRetries = 3
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.EmbeddingModel == "" {
		c.LLM.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 2
	}

	if c.Pipeline.RetrievalThreshold <= 0 {
		c.Pipeline.RetrievalThreshold = 0.45
	}
	if c.Pipeline.AcceptThreshold <= 0 {
		c.Pipeline.AcceptThreshold = 0.6
	}
	if c.Pipeline.OperationLimit <= 0 {
		c.Pipeline.OperationLimit = 4
	}
	if c.Pipeline.MaxScriptOps <= 0 {
		c.Pipeline.MaxScriptOps = 64
	}
	if c.Pipeline.MinTrustScore <= 0 {
		c.Pipeline.MinTrustScore = 0.5
	}
	if c.Pipeline.DedupGraceSeconds <= 0 {
		c.Pipeline.DedupGraceSeconds = 2
	}
	if c.Pipeline.RegistryCacheSeconds <= 0 {
		c.Pipeline.RegistryCacheSeconds = 60
	}

	if c.Collectors.CacheTTLSeconds <= 0 {
		c.Collectors.CacheTTLSeconds = 30
	}
	if c.Collectors.TimeoutSeconds <= 0 {
		c.Collectors.TimeoutSeconds = 10
	}

	if c.Lexicon.MaxQueries <= 0 {
		c.Lexicon.MaxQueries = 4
	}
	if c.Lexicon.Source != "" && !filepath.IsAbs(c.Lexicon.Source) {
		c.Lexicon.Source = filepath.Join(baseDir, c.Lexicon.Source)
	}

	if c.Ledger.ChainConfig != "" && !filepath.IsAbs(c.Ledger.ChainConfig) {
		c.Ledger.ChainConfig = filepath.Join(baseDir, c.Ledger.ChainConfig)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
