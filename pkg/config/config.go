package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Milvus    MilvusConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Retrieval RetrievalConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type PipelineConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	MinChunkChars     int
	Workers           int
	DedupeAcrossPages bool
}

type RetrievalConfig struct {
	TopK           int
	VectorWeight   float64
	FulltextWeight float64
	MaxChunks      int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/studyrag")

	viper.SetEnvPrefix("STUDYRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that would otherwise fail deep inside the
// pipeline. These are fatal: the process must not start with them.
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunkSize must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunkOverlap must be in [0, chunkSize), got overlap=%d chunkSize=%d",
			c.Pipeline.ChunkOverlap, c.Pipeline.ChunkSize)
	}
	if c.Pipeline.MinChunkChars < 0 {
		return fmt.Errorf("pipeline.minChunkChars must be non-negative, got %d", c.Pipeline.MinChunkChars)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}

	sum := c.Retrieval.VectorWeight + c.Retrieval.FulltextWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("retrieval weights must sum to 1.0, got vector=%.2f fulltext=%.2f",
			c.Retrieval.VectorWeight, c.Retrieval.FulltextWeight)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.topK must be positive, got %d", c.Retrieval.TopK)
	}

	if c.LLM.EmbeddingDim <= 0 {
		return fmt.Errorf("llm.embeddingDim must be positive, got %d", c.LLM.EmbeddingDim)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("sqlite.path", "./data/studyrag.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 3600)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 30)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("pipeline.chunkSize", 1000)
	viper.SetDefault("pipeline.chunkOverlap", 200)
	viper.SetDefault("pipeline.minChunkChars", 200)
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.dedupeAcrossPages", false)

	viper.SetDefault("retrieval.topK", 5)
	viper.SetDefault("retrieval.vectorWeight", 0.7)
	viper.SetDefault("retrieval.fulltextWeight", 0.3)
	viper.SetDefault("retrieval.maxChunks", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
