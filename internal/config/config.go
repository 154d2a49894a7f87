package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port              int           `yaml:"port"`
		ReadTimeout       time.Duration `yaml:"readTimeout"`
		WriteTimeout      time.Duration `yaml:"writeTimeout"`
		IdleTimeout       time.Duration `yaml:"idleTimeout"`
		MaxUploadBytes    int64         `yaml:"maxUploadBytes"`
		AllowedExtensions []string      `yaml:"allowedExtensions"`
		CORSOrigins       []string      `yaml:"corsOrigins"`
	} `yaml:"server"`

	Tool struct {
		Binary         string        `yaml:"binary"`
		PluginPath     string        `yaml:"pluginPath"`
		PluginName     string        `yaml:"pluginName"`
		Flags          []string      `yaml:"flags"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxOutputBytes int           `yaml:"maxOutputBytes"`
	} `yaml:"tool"`

	Workspace struct {
		Root      string `yaml:"root"`
		Retention string `yaml:"retention"` // delete | keep | archive
	} `yaml:"workspace"`

	Concurrency struct {
		MaxConcurrent int64 `yaml:"maxConcurrent"`
	} `yaml:"concurrency"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | console
	} `yaml:"log"`

	Store struct {
		Driver    string `yaml:"driver"` // memory | mysql | postgres
		CacheSize int    `yaml:"cacheSize"`
	} `yaml:"store"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"` // client -> key
	} `yaml:"auth"`

	RateLimit struct {
		Capacity        int `yaml:"capacity"`
		RefillPerSecond int `yaml:"refillPerSecond"`
	} `yaml:"rateLimit"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Port = 3001
	c.Server.ReadTimeout = 30 * time.Second
	c.Server.WriteTimeout = 90 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.MaxUploadBytes = 5 << 20
	c.Server.AllowedExtensions = []string{".c", ".cpp", ".cc", ".cxx"}
	c.Server.CORSOrigins = []string{"*"}

	c.Tool.Binary = "clang"
	c.Tool.PluginPath = "./build/libfp16DemotionPlugin.so"
	c.Tool.PluginName = "fp16-demotion"
	c.Tool.Flags = []string{"-fprecision-demote=fp16"}
	c.Tool.Timeout = 30 * time.Second
	c.Tool.MaxOutputBytes = 10 << 20

	c.Workspace.Root = "./uploads"
	c.Workspace.Retention = "delete"

	c.Log.Level = "info"
	c.Log.Format = "json"

	c.Store.Driver = "memory"
	c.Store.CacheSize = 256

	c.Database.Port = 3306
	c.Database.SSLMode = "disable"

	c.RateLimit.Capacity = 30
	c.RateLimit.RefillPerSecond = 1
	return &c
}

// Load reads .env, then the YAML file at path over the defaults, then
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(strings.TrimPrefix(v, ":"))
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v := os.Getenv("FP16_TOOL_BINARY"); v != "" {
		c.Tool.Binary = v
	}
	if v := os.Getenv("FP16_PLUGIN_PATH"); v != "" {
		c.Tool.PluginPath = v
	}
	if v := os.Getenv("FP16_TOOL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FP16_TOOL_TIMEOUT: %w", err)
		}
		c.Tool.Timeout = d
	}
	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		c.Workspace.Root = v
	}
	if v := os.Getenv("WORKSPACE_RETENTION"); v != "" {
		c.Workspace.Retention = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	return nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.maxUploadBytes must be positive"))
	}
	if len(c.Server.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("server.allowedExtensions is empty"))
	}
	if strings.TrimSpace(c.Tool.Binary) == "" {
		errs = append(errs, errors.New("tool.binary is required"))
	}
	if c.Tool.Timeout <= 0 {
		errs = append(errs, errors.New("tool.timeout must be positive"))
	}
	if c.Tool.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("tool.maxOutputBytes must be positive"))
	}
	if strings.TrimSpace(c.Workspace.Root) == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	switch c.Workspace.Retention {
	case "delete", "keep":
	case "archive":
		if c.Minio.Endpoint == "" || c.Minio.BucketName == "" {
			errs = append(errs, errors.New("workspace.retention=archive needs minio.endpoint and minio.bucketName"))
		}
	default:
		errs = append(errs, fmt.Errorf("workspace.retention %q: want delete, keep or archive", c.Workspace.Retention))
	}
	if c.Concurrency.MaxConcurrent < 0 {
		errs = append(errs, errors.New("concurrency.maxConcurrent must not be negative"))
	}
	// An unqueued analysis must be able to report its own timeout before the
	// connection's write deadline. Queued runs can wait arbitrarily long, so
	// with maxConcurrent set the operator owns the margin.
	if c.Concurrency.MaxConcurrent == 0 && c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Tool.Timeout {
		errs = append(errs, fmt.Errorf("server.writeTimeout %s must exceed tool.timeout %s", c.Server.WriteTimeout, c.Tool.Timeout))
	}
	switch c.Store.Driver {
	case "memory", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want memory, mysql or postgres", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// MySQLDSN builds the go-sql-driver DSN.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
