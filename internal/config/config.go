// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Output  OutputConfig  `mapstructure:"output"`
	Report  ReportConfig  `mapstructure:"report"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// CrawlerConfig governs fetching and pagination.
type CrawlerConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	ListPath       string            `mapstructure:"list_path"`
	MinDelay       time.Duration     `mapstructure:"min_delay"`
	MaxDelay       time.Duration     `mapstructure:"max_delay"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxRetries     int               `mapstructure:"max_retries"`
	Headers        map[string]string `mapstructure:"headers"`
	UserAgents     []string          `mapstructure:"user_agents"`
	ChallengeHosts []string          `mapstructure:"challenge_hosts"`
	IgnoreRobots   bool              `mapstructure:"ignore_robots"`
	MaxRPS         float64           `mapstructure:"max_rps"`
	Burst          int               `mapstructure:"burst"`
	MaxItems       int               `mapstructure:"max_items"`
	ItemsPerPage   int               `mapstructure:"items_per_page"`
}

// ParserConfig controls record filtering.
type ParserConfig struct {
	CountryFilter []string `mapstructure:"country_filter"`
	MinYear       int      `mapstructure:"min_year"`
}

// OutputConfig sets local artifact paths.
type OutputConfig struct {
	CSVPath   string `mapstructure:"csv_path"`
	ChartPath string `mapstructure:"chart_path"`
}

// ReportConfig tunes the director report.
type ReportConfig struct {
	TopN int `mapstructure:"top_n"`

	// FontPath is a TTF/OTF/TTC file with CJK glyphs for chart text. Empty
	// probes common system locations.
	FontPath string `mapstructure:"font_path"`
}

// LoggingConfig toggles zap development features and the per-run log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Dir         string `mapstructure:"dir"`
}

// MetricsConfig exposes Prometheus metrics while a run is in progress.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// StorageConfig selects where run artifacts are uploaded.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Storage providers.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
)

// DefaultHeaders are sent with every listing request.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "zh-CN,zh;q=0.8,zh-TW;q=0.7,zh-HK;q=0.5,en-US;q=0.3,en;q=0.2",
		"Connection":      "keep-alive",
		"Referer":         "https://www.douban.com/",
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOP250")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", "https://movie.douban.com")
	v.SetDefault("crawler.list_path", "/top250")
	v.SetDefault("crawler.min_delay", "1s")
	v.SetDefault("crawler.max_delay", "3s")
	v.SetDefault("crawler.timeout", "10s")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.headers", DefaultHeaders())
	v.SetDefault("crawler.user_agents", []string{})
	v.SetDefault("crawler.challenge_hosts", []string{"accounts.douban.com"})
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.max_rps", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.max_items", 250)
	v.SetDefault("crawler.items_per_page", 25)
	v.SetDefault("parser.country_filter", []string{"中国"})
	v.SetDefault("parser.min_year", 1900)
	v.SetDefault("output.csv_path", "data/film_name.csv")
	v.SetDefault("output.chart_path", "data/director_top5.png")
	v.SetDefault("report.top_n", 5)
	v.SetDefault("report.font_path", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.base_dir", "data/artifacts")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("db.table", "movies")
	v.SetDefault("db.max_conns", 4)
}

// normalize trims list entries and restores the canonical header casing that
// Viper lowercases when it unmarshals map keys.
func (c *Config) normalize() {
	c.Crawler.UserAgents = trimAll(c.Crawler.UserAgents)
	c.Crawler.ChallengeHosts = trimAll(c.Crawler.ChallengeHosts)
	c.Parser.CountryFilter = trimAll(c.Parser.CountryFilter)
	if len(c.Crawler.Headers) > 0 {
		headers := make(map[string]string, len(c.Crawler.Headers))
		for k, val := range c.Crawler.Headers {
			headers[http.CanonicalHeaderKey(k)] = val
		}
		c.Crawler.Headers = headers
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute URL")
	}
	if c.Crawler.MinDelay < 0 {
		return fmt.Errorf("crawler.min_delay must be >= 0")
	}
	if c.Crawler.MaxDelay < c.Crawler.MinDelay {
		return fmt.Errorf("crawler.max_delay must be >= crawler.min_delay")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.MaxRPS < 0 {
		return fmt.Errorf("crawler.max_rps must be >= 0")
	}
	if c.Crawler.ItemsPerPage <= 0 {
		return fmt.Errorf("crawler.items_per_page must be > 0")
	}
	if c.Crawler.MaxItems <= 0 {
		return fmt.Errorf("crawler.max_items must be > 0")
	}
	if c.Parser.MinYear <= 0 {
		return fmt.Errorf("parser.min_year must be > 0")
	}
	if c.Report.TopN <= 0 {
		return fmt.Errorf("report.top_n must be > 0")
	}
	if c.Output.CSVPath == "" {
		return fmt.Errorf("output.csv_path must be set")
	}
	switch c.Storage.Provider {
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local provider")
		}
	case StorageMemory:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// ListURL returns the absolute URL of the paginated listing.
func (c Config) ListURL() string {
	return strings.TrimRight(c.Crawler.BaseURL, "/") + "/" + strings.TrimLeft(c.Crawler.ListPath, "/")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
