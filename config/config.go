package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Worker struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"worker"`
	MinIO struct {
		Endpoint  string        `yaml:"endpoint"`
		AccessKey string        `yaml:"access_key"`
		SecretKey string        `yaml:"secret_key"`
		Bucket    string        `yaml:"bucket"`
		UseSSL    bool          `yaml:"use_ssl"`
		URLExpiry time.Duration `yaml:"url_expiry"`
	} `yaml:"minio"`
	Gemini struct {
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		TextModel      string        `yaml:"text_model"`
		VideoModel     string        `yaml:"video_model"`
		ImageModel     string        `yaml:"image_model"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		PollTimeout    time.Duration `yaml:"poll_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"gemini"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

var AppConfig *Config

// InitConfig loads DefaultPath into AppConfig and exits on failure.
func InitConfig() {
	cfg, err := Load(DefaultPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config: load failed")
	}
	AppConfig = cfg
}

// Load reads .env files (if any), decodes the YAML file at path, applies
// environment overrides and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		dst  *string
		keys []string
	}{
		{&c.Gemini.APIKey, []string{"GEMINI_API_KEY", "API_KEY"}},
		{&c.Gemini.BaseURL, []string{"GEMINI_BASE_URL"}},
		{&c.MySQL.DSN, []string{"MYSQL_DSN"}},
		{&c.Redis.Addr, []string{"REDIS_ADDR"}},
		{&c.Redis.Password, []string{"REDIS_PASSWORD"}},
		{&c.MinIO.Endpoint, []string{"MINIO_ENDPOINT"}},
		{&c.MinIO.AccessKey, []string{"MINIO_ACCESS_KEY"}},
		{&c.MinIO.SecretKey, []string{"MINIO_SECRET_KEY"}},
		{&c.Server.Port, []string{"PORT"}},
		{&c.Server.Env, []string{"APP_ENV"}},
		{&c.Log.Level, []string{"LOG_LEVEL"}},
	}
	for _, o := range overrides {
		for _, k := range o.keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*o.dst = v
				break
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if !strings.Contains(c.Server.Port, ":") {
		c.Server.Port = ":" + c.Server.Port
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 5
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = "reelstudio"
	}
	if c.MinIO.URLExpiry <= 0 {
		c.MinIO.URLExpiry = 72 * time.Hour
	}
	if c.Gemini.PollInterval <= 0 {
		c.Gemini.PollInterval = 10 * time.Second
	}
	if c.Gemini.RequestTimeout <= 0 {
		c.Gemini.RequestTimeout = 60 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}
