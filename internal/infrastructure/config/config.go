package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 連線池上限，批次寬度不可超過此值
const MaxPoolSize = 10

// Config 應用配置
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Mealie     MealieConfig     `mapstructure:"mealie"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Session    SessionConfig    `mapstructure:"session"`
	Cache      CacheConfig      `mapstructure:"cache"`
	LogLevel   string           `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Version  string `mapstructure:"version"`
	Name     string `mapstructure:"name"`
}

// MealieConfig Mealie 伺服器連線設定
type MealieConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Parser     string        `mapstructure:"parser"`
}

// BatchConfig 批次處理設定
type BatchConfig struct {
	Width int `mapstructure:"width"`
}

// SimilarityConfig 相似度建議設定
type SimilarityConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	MaxCandidates int     `mapstructure:"max_candidates"`
}

// SessionConfig 工作階段檔案設定
type SessionConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// CacheConfig 解析提示快取設定
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// 加載 .env 文件（允許不存在）
	_ = godotenv.Load()

	// 設定預設值
	setDefaults()

	// 設定環境變數前綴
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 綁定環境變量
	viper.BindEnv("mealie.url", "MEALIE_URL")
	viper.BindEnv("mealie.api_key", "MEALIE_API_KEY")
	viper.BindEnv("mealie.timeout", "REQUEST_TIMEOUT")
	viper.BindEnv("mealie.max_retries", "MAX_RETRIES")
	viper.BindEnv("mealie.parser", "INGREDIENT_PARSER")
	viper.BindEnv("batch.width", "BATCH_WIDTH")
	viper.BindEnv("similarity.threshold", "SIMILARITY_THRESHOLD")
	viper.BindEnv("session.file_path", "SESSION_FILE")
	viper.BindEnv("cache.enabled", "CACHE_ENABLED")
	viper.BindEnv("cache.ttl", "CACHE_TTL")
	viper.BindEnv("cache.redis_addr", "REDIS_ADDR")
	viper.BindEnv("log_level", "LOG_LEVEL")

	// 設定設定檔名稱和路徑
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// 讀取設定檔
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析設定
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// MaskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults() {
	// 應用程式設定
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.name", "mealie-resolver")

	// Mealie 設定
	viper.SetDefault("mealie.timeout", "10s")
	viper.SetDefault("mealie.max_retries", 3)
	viper.SetDefault("mealie.parser", "nlp")

	// 批次設定
	viper.SetDefault("batch.width", 10)

	// 相似度設定
	viper.SetDefault("similarity.threshold", 0.85)
	viper.SetDefault("similarity.max_candidates", 5)

	// 工作階段設定
	viper.SetDefault("session.file_path", ".ai/session-state.json")

	// 快取設定
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.max_size", 1000)
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.cleanup_interval", "10m")
	viper.SetDefault("cache.redis_addr", "")

	viper.SetDefault("log_level", "info")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證 Mealie 設定
	if config.Mealie.URL == "" {
		return fmt.Errorf("MEALIE_URL is required")
	}
	if config.Mealie.APIKey == "" {
		return fmt.Errorf("MEALIE_API_KEY is required")
	}
	if config.Mealie.Timeout <= 0 {
		return fmt.Errorf("invalid request timeout")
	}
	if config.Mealie.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries")
	}
	if config.Mealie.Parser != "nlp" && config.Mealie.Parser != "brute" {
		return fmt.Errorf("invalid ingredient parser: %s", config.Mealie.Parser)
	}

	// 批次寬度不可超過連線池大小，否則 fan-out 會互相等待
	if config.Batch.Width <= 0 {
		return fmt.Errorf("invalid batch width")
	}
	if config.Batch.Width > MaxPoolSize {
		return fmt.Errorf("batch width %d exceeds connection pool size %d", config.Batch.Width, MaxPoolSize)
	}

	// 驗證相似度設定
	if config.Similarity.Threshold <= 0 || config.Similarity.Threshold > 1 {
		return fmt.Errorf("invalid similarity threshold: %f", config.Similarity.Threshold)
	}
	if config.Similarity.MaxCandidates <= 0 {
		return fmt.Errorf("invalid similarity max candidates")
	}

	// 驗證工作階段設定
	if config.Session.FilePath == "" {
		return fmt.Errorf("session file path is required")
	}

	// 驗證快取設定
	if config.Cache.Enabled {
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
	}

	return nil
}
