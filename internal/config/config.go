// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Neo4j         Neo4jConfig         `mapstructure:"neo4j"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Rerank        RerankConfig        `mapstructure:"rerank"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Graph         GraphConfig         `mapstructure:"graph"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储管理端 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// QueueConfig 存储摄取任务队列的配置。driver 可选 redis 或 kafka。
type QueueConfig struct {
	Driver   string      `mapstructure:"driver"`
	RedisKey string      `mapstructure:"redis_key"`
	Kafka    KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// Neo4jConfig 存储 Neo4j 图数据库的配置。
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RerankConfig 存储重排序模型服务的配置。enabled=false 时检索直接透传候选。
type RerankConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChunkingConfig 存储动态分块的窗口参数。
type ChunkingConfig struct {
	WindowTokens    int `mapstructure:"window_tokens"`
	OverlapTokens   int `mapstructure:"overlap_tokens"`
	MaxOutputTokens int `mapstructure:"max_output_tokens"`
}

// RetrievalConfig 存储混合检索与图扩展的参数。
type RetrievalConfig struct {
	DefaultLimit          int     `mapstructure:"default_limit"`
	MaxLimit              int     `mapstructure:"max_limit"`
	DefaultAlpha          float64 `mapstructure:"default_alpha"`
	OversampleFactor      int     `mapstructure:"oversample_factor"`
	GraphExpansionEnabled bool    `mapstructure:"graph_expansion_enabled"`
	GraphSeedLimit        int     `mapstructure:"graph_seed_limit"`
	GraphSeedMinScore     float64 `mapstructure:"graph_seed_min_score"`
	GraphExpansionLimit   int     `mapstructure:"graph_expansion_limit"`
	GraphEntityLimit      int     `mapstructure:"graph_entity_limit"`
}

// GraphConfig 存储实体抽取与图谱写入的参数。enabled=false 时摄取跳过图谱阶段。
type GraphConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	MaxEntitiesPerChunk int  `mapstructure:"max_entities_per_chunk"`
}

// WorkersConfig 存储摄取工作池的配置。
// pool_size 为常驻协程池上限，期望并发度由控制面在 [1, pool_size] 内动态调节。
type WorkersConfig struct {
	PoolSize        int    `mapstructure:"pool_size"`
	ProgressChannel string `mapstructure:"progress_channel"`
}

// AuthConfig 存储租户 API Key 映射以及管理员凭据。
type AuthConfig struct {
	Tenants       []TenantKey `mapstructure:"tenants"`
	AdminUsername string      `mapstructure:"admin_username"`
	// AdminPasswordHash 为 bcrypt 散列，避免在配置文件中保存明文口令。
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

// TenantKey 将一个 API Key 绑定到一个租户。
type TenantKey struct {
	APIKey   string `mapstructure:"api_key"`
	TenantID string `mapstructure:"tenant_id"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// setDefaults 为可省略的配置项注册默认值，保持 config.yaml 精简。
func setDefaults() {
	viper.SetDefault("queue.driver", "redis")
	viper.SetDefault("queue.redis_key", "rag:ingest:queue")
	viper.SetDefault("queue.kafka.group_id", "rag-ingest-workers")
	viper.SetDefault("embedding.batch_size", 32)
	viper.SetDefault("llm.timeout_seconds", 300)
	viper.SetDefault("rerank.timeout_seconds", 60)
	viper.SetDefault("chunking.window_tokens", 16000)
	viper.SetDefault("chunking.overlap_tokens", 1000)
	viper.SetDefault("chunking.max_output_tokens", 20000)
	viper.SetDefault("retrieval.default_limit", 10)
	viper.SetDefault("retrieval.max_limit", 50)
	viper.SetDefault("retrieval.default_alpha", 0.5)
	viper.SetDefault("retrieval.oversample_factor", 3)
	viper.SetDefault("retrieval.graph_expansion_enabled", true)
	viper.SetDefault("retrieval.graph_seed_limit", 8)
	viper.SetDefault("retrieval.graph_seed_min_score", 0.2)
	viper.SetDefault("retrieval.graph_expansion_limit", 20)
	viper.SetDefault("retrieval.graph_entity_limit", 25)
	viper.SetDefault("graph.enabled", true)
	viper.SetDefault("graph.max_entities_per_chunk", 25)
	viper.SetDefault("workers.pool_size", 8)
	viper.SetDefault("workers.progress_channel", "rag:progress:events")
}
