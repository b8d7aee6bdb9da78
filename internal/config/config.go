package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port           string   `json:"port" yaml:"port"`
		Debug          bool     `json:"debug" yaml:"debug"`
		AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	} `json:"server" yaml:"server"`

	Log LogConfig `json:"log" yaml:"log"`

	Database DatabaseConfig `json:"database" yaml:"database"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Signer   SignerConfig   `json:"signer" yaml:"signer"`
	ML       MLConfig       `json:"ml" yaml:"ml"`
	Events   EventsConfig   `json:"events" yaml:"events"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// DatabaseConfig selects where analysis records are persisted
type DatabaseConfig struct {
	Type            string `json:"type" yaml:"type"` // "sqlite" or "firestore"
	Path            string `json:"path" yaml:"path"`
	ProjectID       string `json:"project_id" yaml:"project_id"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// StorageConfig describes the URL conventions accepted for uploaded images
type StorageConfig struct {
	ProviderHost   string   `json:"provider_host" yaml:"provider_host"`
	ProviderBucket string   `json:"provider_bucket" yaml:"provider_bucket"`
	GenericHosts   []string `json:"generic_hosts" yaml:"generic_hosts"`
}

// SignerConfig selects how signed read URLs are minted
type SignerConfig struct {
	Type            string   `json:"type" yaml:"type"` // "gcs" or "minio"
	Expiry          Duration `json:"expiry" yaml:"expiry"`
	Timeout         Duration `json:"timeout" yaml:"timeout"`
	CredentialsFile string   `json:"credentials_file" yaml:"credentials_file"`
	Minio           struct {
		Endpoint  string `json:"endpoint" yaml:"endpoint"`
		AccessKey string `json:"access_key" yaml:"access_key"`
		SecretKey string `json:"secret_key" yaml:"secret_key"`
		Region    string `json:"region" yaml:"region"`
		UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
	} `json:"minio" yaml:"minio"`
}

// MLConfig selects and configures the generative model backend
type MLConfig struct {
	Type            string   `json:"type" yaml:"type"` // "vertex-rest", "vertex-sdk" or "openai"
	ProjectID       string   `json:"project_id" yaml:"project_id"`
	Location        string   `json:"location" yaml:"location"`
	Model           string   `json:"model" yaml:"model"`
	BaseURL         string   `json:"base_url" yaml:"base_url"`
	CredentialsFile string   `json:"credentials_file" yaml:"credentials_file"`
	APIKey          string   `json:"api_key" yaml:"api_key"`
	Timeout         Duration `json:"timeout" yaml:"timeout"`
}

// EventsConfig configures the optional upload-event queue consumer
type EventsConfig struct {
	AMQP struct {
		URL      string `json:"url" yaml:"url"`
		Queue    string `json:"queue" yaml:"queue"`
		Prefetch int    `json:"prefetch" yaml:"prefetch"`
	} `json:"amqp" yaml:"amqp"`
}

const minSignedURLExpiry = 5 * time.Minute

// LoadConfig loads configuration from a JSON or YAML file, then fills the
// blanks from the environment (including a .env file) and applies defaults.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Server.Port, "PORT")
	setFromEnv(&c.ML.ProjectID, "GOOGLE_PROJECT_ID")
	setFromEnv(&c.ML.Location, "GOOGLE_LOCATION")
	setFromEnv(&c.ML.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setFromEnv(&c.ML.APIKey, "OPENAI_API_KEY")
	setFromEnv(&c.Storage.ProviderBucket, "STORAGE_BUCKET")
	setFromEnv(&c.Database.ProjectID, "GOOGLE_PROJECT_ID")
	setFromEnv(&c.Database.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setFromEnv(&c.Signer.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setFromEnv(&c.Signer.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setFromEnv(&c.Signer.Minio.SecretKey, "MINIO_SECRET_KEY")
	setFromEnv(&c.Events.AMQP.URL, "AMQP_URL")
}

func setFromEnv(field *string, key string) {
	if *field != "" {
		return
	}
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "nutritional.db"
	}
	if c.Signer.Type == "" {
		c.Signer.Type = "gcs"
	}
	if c.Signer.Expiry.Duration == 0 {
		c.Signer.Expiry.Duration = time.Hour
	}
	if c.Signer.Timeout.Duration == 0 {
		c.Signer.Timeout.Duration = 15 * time.Second
	}
	if c.ML.Type == "" {
		c.ML.Type = "vertex-rest"
	}
	if c.ML.Location == "" {
		c.ML.Location = "us-central1"
	}
	if c.ML.Model == "" {
		if c.ML.Type == "openai" {
			c.ML.Model = "gpt-4o"
		} else {
			c.ML.Model = "gemini-1.5-flash"
		}
	}
	if c.ML.Timeout.Duration == 0 {
		c.ML.Timeout.Duration = 90 * time.Second
	}
	if c.Events.AMQP.Queue == "" {
		c.Events.AMQP.Queue = "nutrition-image-uploads"
	}
	if c.Events.AMQP.Prefetch <= 0 {
		c.Events.AMQP.Prefetch = 4
	}
}

// Validate reports the first configuration problem found
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set")
	}
	switch c.Database.Type {
	case "sqlite":
	case "firestore":
		if c.Database.ProjectID == "" {
			return fmt.Errorf("database.project_id is required for firestore")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	switch c.Signer.Type {
	case "gcs":
	case "minio":
		if c.Signer.Minio.Endpoint == "" {
			return fmt.Errorf("signer.minio.endpoint is required for minio")
		}
	default:
		return fmt.Errorf("unsupported signer type: %s", c.Signer.Type)
	}
	if c.Signer.Expiry.Duration < minSignedURLExpiry {
		return fmt.Errorf("signer.expiry must be at least %s", minSignedURLExpiry)
	}
	switch c.ML.Type {
	case "vertex-rest", "vertex-sdk":
		if c.ML.ProjectID == "" {
			return fmt.Errorf("ml.project_id is required for %s", c.ML.Type)
		}
	case "openai":
		if c.ML.APIKey == "" {
			return fmt.Errorf("ml.api_key is required for openai")
		}
	default:
		return fmt.Errorf("unsupported model type: %s", c.ML.Type)
	}
	if c.Storage.ProviderBucket == "" {
		return fmt.Errorf("storage.provider_bucket is not set")
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("NUTRITIONAL_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
