package vetcache

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         int    `yaml:"port"`
		AdminPort    int    `yaml:"adminPort"`
		Origin       string `yaml:"origin"`
		FetchTimeout string `yaml:"fetchTimeout"`

		fetchTimeoutDur time.Duration
	} `yaml:"server"`

	Storage struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		// Quota is the byte budget reported by storage estimates. Empty
		// disables estimates altogether.
		Quota string `yaml:"quota"`

		quotaBytes int64
	} `yaml:"storage"`

	Cache CacheConfig `yaml:"cache"`

	Logging struct {
		Level      string `yaml:"level"`
		StatsEvery string `yaml:"statsEvery"`

		statsEveryDur time.Duration
	} `yaml:"logging"`
}

type CacheConfig struct {
	// Version is the suffix of every cache name. Bumping it drops all
	// previously cached data on the next activation.
	Version        string   `yaml:"version"`
	MaxEntries     int      `yaml:"maxEntries"`
	TargetEntries  int      `yaml:"targetEntries"`
	MaxTotalSize   string   `yaml:"maxTotalSize"`
	QuotaThreshold float64  `yaml:"quotaThreshold"`
	APIPrefix      string   `yaml:"apiPrefix"`
	CacheableAPI   []string `yaml:"cacheableApi"`
	StaticPrefixes []string `yaml:"staticPrefixes"`
	Manifest       []string `yaml:"manifest"`
	OfflineMessage string   `yaml:"offlineMessage"`
	// BackgroundLimit bounds concurrent stale-while-revalidate refreshes.
	BackgroundLimit int `yaml:"backgroundLimit"`

	maxTotalBytes int64
}

// DefaultConfig returns the stock policy: caches tagged v1, 100/50 entry
// eviction, a 50mb aggregate cap and cleanup at 80% of quota.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.AdminPort = 9102
	cfg.Server.FetchTimeout = "30s"
	cfg.Storage.Driver = "leveldb"
	cfg.Storage.Path = "./data/leveldb"
	cfg.Storage.Quota = "1gb"
	cfg.Cache = CacheConfig{
		Version:        "v1",
		MaxEntries:     100,
		TargetEntries:  50,
		MaxTotalSize:   "50mb",
		QuotaThreshold: 0.8,
		APIPrefix:      "/api/",
		CacheableAPI: []string{
			"/api/lich-kham",
			"/api/ho-so-thu",
			"/api/khach-hang",
			"/api/xa",
			"/api/huyen",
			"/api/tinh",
			"/api/lich-tai-kham",
			"/api/dashboard",
			"/api/stats",
		},
		StaticPrefixes:  []string{"/_next/static/", "/static/"},
		Manifest:        []string{"/", "/admin", "/admin/dashboard", "/manifest.json", "/favicon.ico"},
		OfflineMessage:  "You are offline and this data has not been cached yet",
		BackgroundLimit: 32,
	}
	cfg.Logging.Level = "info"
	if err := cfg.compile(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Server.Origin == "" {
		return Config{}, ErrNoOrigin
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	if cfg.Server.FetchTimeout != "" {
		d, err := time.ParseDuration(cfg.Server.FetchTimeout)
		if err != nil {
			return fmt.Errorf("server.fetchTimeout: %w", err)
		}
		cfg.Server.fetchTimeoutDur = d
	}
	cfg.Storage.quotaBytes = 0
	if cfg.Storage.Quota != "" {
		n, err := parseBytes(cfg.Storage.Quota)
		if err != nil {
			return fmt.Errorf("storage.quota: %w", err)
		}
		cfg.Storage.quotaBytes = n
	}
	if cfg.Logging.StatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.StatsEvery)
		if err != nil {
			return fmt.Errorf("logging.statsEvery: %w", err)
		}
		cfg.Logging.statsEveryDur = d
	}

	c := &cfg.Cache
	if c.Version == "" {
		return fmt.Errorf("cache.version is required")
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("cache.maxEntries must be positive")
	}
	if c.TargetEntries < 0 || c.TargetEntries >= c.MaxEntries {
		return fmt.Errorf("cache.targetEntries must be in [0, maxEntries)")
	}
	if c.QuotaThreshold <= 0 || c.QuotaThreshold > 1 {
		return fmt.Errorf("cache.quotaThreshold must be in (0, 1]")
	}
	n, err := parseBytes(c.MaxTotalSize)
	if err != nil {
		return fmt.Errorf("cache.maxTotalSize: %w", err)
	}
	c.maxTotalBytes = n
	if c.BackgroundLimit <= 0 {
		c.BackgroundLimit = 1
	}
	for i, p := range c.CacheableAPI {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("cache.cacheableApi[%d]: %q must start with /", i, p)
		}
	}
	for i, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("cache.manifest[%d]: %q must start with /", i, p)
		}
	}
	return nil
}

// Names returns the version-tagged cache names.
func (c CacheConfig) Names() CacheNames {
	return CacheNames{
		Static: "static-" + c.Version,
		API:    "api-" + c.Version,
		Images: "images-" + c.Version,
	}
}

func (c CacheConfig) policy() Policy {
	return Policy{
		MaxEntries:     c.MaxEntries,
		TargetEntries:  c.TargetEntries,
		MaxTotalSize:   c.maxTotalBytes,
		QuotaThreshold: c.QuotaThreshold,
	}
}
