package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Vector        VectorConfig        `json:"vector"`
	LLM           LLMConfig           `json:"llm"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	Ingestion     IngestionConfig     `json:"ingestion"`
	Query         QueryConfig         `json:"query"`
	Auth          AuthConfig          `json:"auth"`
	Redis         RedisConfig         `json:"redis"`
	ExternalAgent ExternalAgentConfig `json:"external_agent"`
	Routing       RoutingConfig       `json:"routing"`
	Logging       LoggingConfig       `json:"logging"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"read_timeout"`
	WriteTimeout   int      `json:"write_timeout"`
	IdleTimeout    int      `json:"idle_timeout"`
	ClientURL      string   `json:"client_url"`
	AllowedOrigins []string `json:"allowed_origins"`
	Environment    string   `json:"environment"`
}

type DatabaseConfig struct {
	URI          string `json:"uri"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

// VectorConfig holds configuration for the vector store REST API.
type VectorConfig struct {
	URL               string `json:"url"`
	APIKey            string `json:"api_key"`
	DefaultCollection string `json:"default_collection"`
	Timeout           int    `json:"timeout"`
	ScrollTimeout     int    `json:"scroll_timeout"`
	PoolSize          int    `json:"pool_size"`
}

// LLMConfig selects and tunes the generation provider.
type LLMConfig struct {
	Provider        string  `json:"provider"` // "ollama" or "gemini"
	Model           string  `json:"model"`
	BaseURL         string  `json:"base_url"`
	APIKey          string  `json:"api_key"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Timeout         int     `json:"timeout"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	BatchSize int    `json:"batch_size"`
	Timeout   int    `json:"timeout"`
}

type IngestionConfig struct {
	ChunkSize         int    `json:"chunk_size"`
	ChunkOverlap      int    `json:"chunk_overlap"`
	MaxJobs           int    `json:"max_jobs"`
	MaxEmbedGroups    int    `json:"max_embed_groups"`
	JobTimeout        int    `json:"job_timeout"` // seconds
	CacheDir          string `json:"cache_dir"`
	MaxFileSizeMB     int    `json:"max_file_size_mb"`
	MaxTextFileSizeMB int    `json:"max_text_file_size_mb"`
}

type QueryConfig struct {
	KDocuments    int `json:"k_documents"`
	MaxConcurrent int `json:"max_concurrent"`
	Timeout       int `json:"timeout"`   // seconds
	CacheTTL      int `json:"cache_ttl"` // seconds
	CacheCapacity int `json:"cache_capacity"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Enabled  bool   `json:"enabled"`
}

// ExternalAgentConfig describes the optional external agent directory,
// reachable either through a REST API or a direct SQL connection with
// per-deployment field mappings.
type ExternalAgentConfig struct {
	DBEnabled bool              `json:"db_enabled"`
	DBType    string            `json:"db_type"` // "mysql" or "postgres"
	DBURI     string            `json:"db_uri"`
	APIURL    string            `json:"api_url"`
	APIKey    string            `json:"api_key"`
	TableName string            `json:"table_name"`
	FieldMap  map[string]string `json:"field_map"`
	CacheTTL  int               `json:"cache_ttl"` // seconds
}

type RoutingConfig struct {
	PreferLocalAgents bool `json:"prefer_local_agents"`
	SkillBasedRouting bool `json:"skill_based_routing"`
	QueueTimeoutMs    int  `json:"queue_timeout_ms"`
	SessionTTLHours   int  `json:"session_ttl_hours"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

func LoadConfig() (*Config, error) {
	// Optional .env for local development; real deployments set env directly.
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("PORT", 8080),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			ClientURL:      getEnv("CLIENT_URL", "http://localhost:3000"),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			Environment:    getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			URI:          getEnv("DB_URI", "host=localhost port=5432 user=support password=support dbname=support_desk sslmode=disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Vector: VectorConfig{
			URL:               getEnv("VECTOR_URL", "http://localhost:6333"),
			APIKey:            getEnv("VECTOR_API_KEY", ""),
			DefaultCollection: getEnv("VECTOR_COLLECTION_DEFAULT", "support_docs"),
			Timeout:           getEnvAsInt("VECTOR_TIMEOUT", 10),
			ScrollTimeout:     getEnvAsInt("VECTOR_SCROLL_TIMEOUT", 60),
			PoolSize:          getEnvAsInt("VECTOR_POOL_SIZE", 10),
		},
		LLM: LLMConfig{
			Provider:        getEnv("LLM_PROVIDER", "ollama"),
			Model:           getEnv("LLM_MODEL", "llama3.1"),
			BaseURL:         getEnv("LLM_BASE_URL", "http://localhost:11434"),
			APIKey:          getEnv("LLM_API_KEY", ""),
			Temperature:     getEnvAsFloat("TEMPERATURE", 0.2),
			MaxOutputTokens: getEnvAsInt("MAX_OUTPUT_TOKENS", 1024),
			Timeout:         getEnvAsInt("LLM_TIMEOUT", 30),
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", "ollama"),
			Model:     getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			BaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:11434"),
			APIKey:    getEnv("EMBEDDING_API_KEY", ""),
			BatchSize: getEnvAsInt("EMBEDDING_BATCH_SIZE", 50),
			Timeout:   getEnvAsInt("EMBEDDING_TIMEOUT", 30),
		},
		Ingestion: IngestionConfig{
			ChunkSize:         getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap:      getEnvAsInt("CHUNK_OVERLAP", 100),
			MaxJobs:           getEnvAsInt("INGEST_MAX_JOBS", 3),
			MaxEmbedGroups:    getEnvAsInt("INGEST_MAX_EMBED_GROUPS", 3),
			JobTimeout:        getEnvAsInt("INGEST_JOB_TIMEOUT", 300),
			CacheDir:          getEnv("INGEST_CACHE_DIR", os.TempDir()+"/support-chunk-cache"),
			MaxFileSizeMB:     getEnvAsInt("INGEST_MAX_FILE_SIZE_MB", 50),
			MaxTextFileSizeMB: getEnvAsInt("INGEST_MAX_TEXT_FILE_SIZE_MB", 10),
		},
		Query: QueryConfig{
			KDocuments:    getEnvAsInt("K_DOCUMENTS", 3),
			MaxConcurrent: getEnvAsInt("QUERY_MAX_CONCURRENT", 10),
			Timeout:       getEnvAsInt("QUERY_TIMEOUT", 30),
			CacheTTL:      getEnvAsInt("QUERY_CACHE_TTL", 1800),
			CacheCapacity: getEnvAsInt("QUERY_CACHE_CAPACITY", 1000),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		ExternalAgent: ExternalAgentConfig{
			DBEnabled: getEnvAsBool("EXTERNAL_AGENT_DB_ENABLED", false),
			DBType:    getEnv("EXTERNAL_AGENT_DB_TYPE", "mysql"),
			DBURI:     getEnv("EXTERNAL_AGENT_DB_URI", ""),
			APIURL:    getEnv("EXTERNAL_AGENT_API_URL", ""),
			APIKey:    getEnv("EXTERNAL_AGENT_API_KEY", ""),
			TableName: getEnv("EXTERNAL_AGENT_TABLE_NAME", "agents"),
			FieldMap: map[string]string{
				"id":             getEnv("EXTERNAL_AGENT_FIELD_ID", "id"),
				"name":           getEnv("EXTERNAL_AGENT_FIELD_NAME", "name"),
				"email":          getEnv("EXTERNAL_AGENT_FIELD_EMAIL", "email"),
				"status":         getEnv("EXTERNAL_AGENT_FIELD_STATUS", "status"),
				"max_concurrent": getEnv("EXTERNAL_AGENT_FIELD_MAX_CONCURRENT", "max_concurrent"),
				"current_load":   getEnv("EXTERNAL_AGENT_FIELD_CURRENT_LOAD", "current_load"),
				"department":     getEnv("EXTERNAL_AGENT_FIELD_DEPARTMENT", "department"),
			},
			CacheTTL: getEnvAsInt("EXTERNAL_AGENT_CACHE_TTL", 300),
		},
		Routing: RoutingConfig{
			PreferLocalAgents: getEnvAsBool("PREFER_LOCAL_AGENTS", true),
			SkillBasedRouting: getEnvAsBool("SKILL_BASED_ROUTING", false),
			QueueTimeoutMs:    getEnvAsInt("QUEUE_TIMEOUT_MS", 600000),
			SessionTTLHours:   getEnvAsInt("SESSION_TTL_HOURS", 168),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(c *Config) error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.LLM.Provider != "ollama" && c.LLM.Provider != "gemini" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.Ingestion.ChunkOverlap)
	}
	if c.Query.KDocuments < 1 || c.Query.KDocuments > 50 {
		return fmt.Errorf("K_DOCUMENTS must be in [1,50], got %d", c.Query.KDocuments)
	}
	if c.ExternalAgent.DBEnabled && c.ExternalAgent.DBURI == "" && c.ExternalAgent.APIURL == "" {
		return fmt.Errorf("external agent directory enabled but neither EXTERNAL_AGENT_DB_URI nor EXTERNAL_AGENT_API_URL is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
