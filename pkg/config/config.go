package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Neo4j   Neo4jConfig
	Graph   GraphConfig
	Milvus  MilvusConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Dedup   DedupConfig
	Ranking RankingConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// GraphConfig points at the optional relation seed file loaded at startup
// (lateral instrument relations and benchmark constituents).
type GraphConfig struct {
	SeedFile string
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
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
}

// DedupConfig bounds the duplicate detector.
type DedupConfig struct {
	WindowHours         int
	SimilarityThreshold float64
}

// Window returns the rolling dedup window as a duration.
func (c DedupConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// RankingConfig holds every tunable of the hybrid ranking engine. Boost units
// and caps are expressed in final-score units.
type RankingConfig struct {
	GraphTimeoutMS      int
	VectorTimeoutMS     int
	ActivationThreshold float64
	HopLimit            int
	VectorTopK          int
	ThemeLimit          int
	DefaultLimit        int
	DefaultWindowHours  int

	PositionBoostUnit  float64
	PositionBoostCap   float64
	WatchlistBoost     float64
	InfluenceBoostUnit float64
	InfluenceBoostCap  float64
	BenchmarkBoost     float64

	// Half-life of the recency decay per impact tier, in minutes. Severe
	// tiers decay slower.
	HalfLifeMinutes map[string]float64
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
	viper.AddConfigPath("/etc/newsrank")

	viper.SetEnvPrefix("NEWSRANK")
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

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("graph.seedFile", "")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "news_documents")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("sqlite.path", "./data/newsrank.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 1024)

	viper.SetDefault("dedup.windowHours", 48)
	viper.SetDefault("dedup.similarityThreshold", 0.85)

	viper.SetDefault("ranking.graphTimeoutMS", 500)
	viper.SetDefault("ranking.vectorTimeoutMS", 300)
	viper.SetDefault("ranking.activationThreshold", 0.5)
	viper.SetDefault("ranking.hopLimit", 2)
	viper.SetDefault("ranking.vectorTopK", 50)
	viper.SetDefault("ranking.themeLimit", 100)
	viper.SetDefault("ranking.defaultLimit", 3)
	viper.SetDefault("ranking.defaultWindowHours", 24)

	viper.SetDefault("ranking.positionBoostUnit", 0.05)
	viper.SetDefault("ranking.positionBoostCap", 0.15)
	viper.SetDefault("ranking.watchlistBoost", 0.05)
	viper.SetDefault("ranking.influenceBoostUnit", 0.04)
	viper.SetDefault("ranking.influenceBoostCap", 0.12)
	viper.SetDefault("ranking.benchmarkBoost", 0.03)

	viper.SetDefault("ranking.halfLifeMinutes", map[string]float64{
		"platinum": 4320,
		"gold":     2880,
		"silver":   1440,
		"bronze":   720,
		"standard": 360,
	})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
