package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/fanout/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Publisher PublisherConfig `yaml:"publisher"`
	Session   SessionConfig   `yaml:"session"`
	Stats     StatsConfig     `yaml:"stats"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres | sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	Path     string `yaml:"path"` // sqlite file or DSN
}

type PublisherConfig struct {
	MediaDir    string `yaml:"media_dir"`
	CookieDir   string `yaml:"cookie_dir"`
	MinInterval string `yaml:"min_interval"`

	// Platforms is keyed by platform name: xiaohongshu, tencent, douyin, kuaishou.
	Platforms map[string]PlatformConfig `yaml:"platforms"`
}

// PlatformConfig wires a platform to the external automation that
// performs deliveries and interactive logins for it.
type PlatformConfig struct {
	Enabled        bool     `yaml:"enabled"`
	DeliverCommand []string `yaml:"deliver_command"`
	LoginCommand   []string `yaml:"login_command"`
	DeliverTimeout string   `yaml:"deliver_timeout"`
	LoginTimeout   string   `yaml:"login_timeout"`
}

type SessionConfig struct {
	PollInterval string `yaml:"poll_interval"`
}

type StatsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Cron          string `yaml:"cron"`
	Timezone      string `yaml:"timezone"`
	RetentionDays int    `yaml:"retention_days"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset values.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5409
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "data/fanout.db"
	}
	if cfg.Publisher.MediaDir == "" {
		cfg.Publisher.MediaDir = "videoFile"
	}
	if cfg.Publisher.CookieDir == "" {
		cfg.Publisher.CookieDir = "cookiesFile"
	}
	if cfg.Publisher.Platforms == nil {
		cfg.Publisher.Platforms = map[string]PlatformConfig{}
	}
	if cfg.Session.PollInterval == "" {
		cfg.Session.PollInterval = "100ms"
	}
	if cfg.Stats.Cron == "" {
		cfg.Stats.Cron = "@every 10m"
	}
	if cfg.Stats.Timezone == "" {
		cfg.Stats.Timezone = "Local"
	}
	if cfg.Stats.RetentionDays <= 0 {
		cfg.Stats.RetentionDays = 90
	}
}

// Duration parses s, returning def when s is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
