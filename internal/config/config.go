package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config 全局配置结构
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Log       LogConfig       `yaml:"log"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"` // dev, test, prod
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // mysql, postgres
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	Charset         string `yaml:"charset"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QdrantConfig Qdrant配置
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// EmbeddingConfig 嵌入模型配置
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"` // OpenAI 兼容接口地址
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	CacheTTL  int    `yaml:"cache_ttl"` // 向量缓存有效期(秒)
}

// StorageConfig 文件存储配置
type StorageConfig struct {
	Local LocalStorageConfig `yaml:"local"`
}

// LocalStorageConfig 本地文件存储配置
type LocalStorageConfig struct {
	BasePath string `yaml:"base_path"`
}

// IndexingConfig 索引流水线配置
type IndexingConfig struct {
	BatchSize       int     `yaml:"batch_size"`        // 向量写入批大小
	Concurrency     int     `yaml:"concurrency"`       // 向量写入并发批数
	ChunkSize       int     `yaml:"chunk_size"`        // 默认分块大小
	ChunkOverlap    int     `yaml:"chunk_overlap"`     // 默认分块重叠
	MaxKeywords     int     `yaml:"max_keywords"`      // 每个分块最多提取关键词数
	TopK            int     `yaml:"top_k"`             // 默认检索条数
	ScoreThreshold  float64 `yaml:"score_threshold"`   // 默认相似度阈值
	LockTimeout     int     `yaml:"lock_timeout"`      // 锁等待超时(秒)
	LockExpiry      int     `yaml:"lock_expiry"`       // 锁持有超时(秒)
	TaskQueue       string  `yaml:"task_queue"`        // 索引任务队列名
	TaskPollTimeout int     `yaml:"task_poll_timeout"` // 队列轮询阻塞时长(秒)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, console
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

var (
	globalConfig *Config
	once         sync.Once
)

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Indexing.ApplyDefaults()

	once.Do(func() {
		globalConfig = &cfg
	})

	return &cfg, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return globalConfig
}

// SetConfig 设置全局配置
func SetConfig(cfg *Config) {
	globalConfig = cfg
}

// ApplyDefaults 填充索引配置默认值
func (c *IndexingConfig) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 500
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 50
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 10
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 0.7
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 3
	}
	if c.LockExpiry <= 0 {
		c.LockExpiry = 60
	}
	if c.TaskQueue == "" {
		c.TaskQueue = "kbase:indexing:queue"
	}
	if c.TaskPollTimeout <= 0 {
		c.TaskPollTimeout = 5
	}
}
