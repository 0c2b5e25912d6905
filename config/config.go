package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the paperdesk service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Papers    PapersConfig    `mapstructure:"papers"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Session   SessionConfig   `mapstructure:"session"`
}

// GeneralConfig contains server-wide settings.
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Debug     bool   `mapstructure:"debug"`
}

// DatabasesConfig groups backing-store connection settings.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the Postgres connection. URL wins over the
// discrete fields when set.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the optional Redis connection used for
// distributed ingestion locks. Leave Host empty to use in-process locks.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProvidersConfig holds LLM provider settings.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// PapersConfig configures the external paper index and the ingestion pipeline.
type PapersConfig struct {
	ArxivEndpoint           string        `mapstructure:"arxiv_endpoint"`
	SemanticScholarEndpoint string        `mapstructure:"semanticscholar_endpoint"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	DownloadDir             string        `mapstructure:"download_dir"`
	ChunkSize               int           `mapstructure:"chunk_size"`
	ChunkOverlap            int           `mapstructure:"chunk_overlap"`
	SearchLimit             int           `mapstructure:"search_limit"`
	PendingGrace            time.Duration `mapstructure:"pending_grace"`
}

func (p PapersConfig) Validate() error {
	if p.ChunkSize <= 0 {
		return fmt.Errorf("papers.chunk_size must be > 0")
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("papers.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// RetrievalConfig bounds semantic lookups.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// SessionConfig controls per-user transcript retention.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LoadConfig reads the JSON config file (optional) and environment
// overrides (PAPERDESK_*) into a Config. Missing config file is fine;
// defaults plus env carry a dev setup.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.listen", ":10020")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.5)
	viper.SetDefault("providers.openai.max_tokens", 4096)
	viper.SetDefault("providers.openai.timeout", 30*time.Second)
	viper.SetDefault("papers.arxiv_endpoint", "https://export.arxiv.org/api/query")
	viper.SetDefault("papers.semanticscholar_endpoint", "https://api.semanticscholar.org/graph/v1")
	viper.SetDefault("papers.request_timeout", 30*time.Second)
	viper.SetDefault("papers.chunk_size", 1000)
	viper.SetDefault("papers.chunk_overlap", 200)
	viper.SetDefault("papers.search_limit", 5)
	viper.SetDefault("papers.pending_grace", 15*time.Minute)
	viper.SetDefault("retrieval.top_k", 8)
	viper.SetDefault("session.ttl", 12*time.Hour)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("PAPERDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	if err := cfg.Papers.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}
