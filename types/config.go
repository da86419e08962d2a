package types

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	APIKey     string

	DBDriver   string // postgres or sqlite
	PGHost     string
	PGPort     int
	PGUser     string
	PGPass     string
	PGDBName   string
	SQLitePath string

	KnowledgeBasePath string
	ChunkSize         int
	ChunkOverlap      int
	IndexWorkers      int
	TagsFile          string

	EmbeddingProvider  string // tfidf, remote or local
	EmbeddingDimension int
	EmbeddingEndpoint  string
	EmbeddingTimeout   time.Duration
	OllamaURL          string
	OllamaModel        string
	QueryCacheSize     int
	CandidatePool      int

	WatchEnabled   bool
	WatchDebounce  time.Duration
	WatchQueueSize int

	LogLevel  string
	LogFormat string
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddr:         getEnv("SERVER_ADDR", ":8080"),
		APIKey:             os.Getenv("API_KEY"),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		PGHost:             getEnv("PG_HOST", "localhost"),
		PGPort:             getInt("PG_PORT", 5432),
		PGUser:             getEnv("PG_USER", "postgres"),
		PGPass:             os.Getenv("PG_PASS"),
		PGDBName:           getEnv("PG_DB_NAME", "mdrag"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/mdrag.db"),
		KnowledgeBasePath:  getEnv("KNOWLEDGE_BASE_PATH", "./knowledge"),
		ChunkSize:          getInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       getInt("CHUNK_OVERLAP", 200),
		IndexWorkers:       getInt("INDEX_WORKERS", 4),
		TagsFile:           os.Getenv("TAGS_FILE"),
		EmbeddingProvider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", "tfidf")),
		EmbeddingDimension: getInt("EMBEDDING_DIMENSION", 384),
		EmbeddingEndpoint:  getEnv("EMBEDDING_ENDPOINT", "http://embedding-api:5000/embed"),
		EmbeddingTimeout:   getDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		OllamaURL:          getEnv("OLLAMA_EMBEDDING_URL", "http://localhost:11434/api/embeddings"),
		OllamaModel:        getEnv("OLLAMA_EMBEDDING_MODEL", "all-minilm"),
		QueryCacheSize:     getInt("QUERY_CACHE_SIZE", 1000),
		CandidatePool:      getInt("CANDIDATE_POOL", 1000),
		WatchEnabled:       getBool("WATCH_ENABLED", true),
		WatchDebounce:      getDuration("WATCH_DEBOUNCE", 5*time.Second),
		WatchQueueSize:     getInt("WATCH_QUEUE_SIZE", 1000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: unknown DB_DRIVER %q", ErrValidation, c.DBDriver)
	}
	switch c.EmbeddingProvider {
	case "tfidf", "remote", "local":
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", ErrValidation, c.EmbeddingProvider)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrValidation)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrValidation)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrValidation)
	}
	if c.IndexWorkers < 1 {
		c.IndexWorkers = 1
	}
	return nil
}

// PostgresConnString builds a libpq style connection string.
func (c *Config) PostgresConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PGHost, c.PGPort, c.PGUser, c.PGPass, c.PGDBName)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
