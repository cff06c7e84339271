// Package config loads autoflair settings from defaults, a YAML file,
// AUTOFLAIR_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// EnvPrefix prefixes every environment override, e.g. AUTOFLAIR_REDDIT_SUBREDDIT.
const EnvPrefix = "AUTOFLAIR"

// LogSettings configuration for logging
type LogSettings struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// RedditSettings configuration for the Reddit API
type RedditSettings struct {
	Subreddit         string        `mapstructure:"subreddit"`
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	UserAgent         string        `mapstructure:"user_agent"`
	BaseURL           string        `mapstructure:"base_url"`
	AuthURL           string        `mapstructure:"auth_url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// DataSettings configuration for the extracted dataset
type DataSettings struct {
	Dir            string `mapstructure:"dir"`
	PostsToExtract int    `mapstructure:"posts_to_extract"`
}

// ModelSettings configuration for training
type ModelSettings struct {
	MaxTitleLength  int     `mapstructure:"max_title_length"`
	MaxBodyLength   int     `mapstructure:"max_body_length"`
	MaxDomainLength int     `mapstructure:"max_domain_length"`
	Smoothing       float64 `mapstructure:"smoothing"`
	Seed            int64   `mapstructure:"seed"` // negative: unseeded split
	MinAccuracy     float64 `mapstructure:"min_accuracy"`
	Path            string  `mapstructure:"path"`
}

// MonitorSettings configuration for the submission monitor
type MonitorSettings struct {
	WaitThreshold time.Duration `mapstructure:"wait_threshold"`
	BackoffDelay  time.Duration `mapstructure:"backoff_delay"`
	SeenCacheSize int           `mapstructure:"seen_cache_size"`
	MetricsAddr   string        `mapstructure:"metrics_addr"` // empty disables /metrics
}

// Settings application settings
type Settings struct {
	Log     LogSettings     `mapstructure:"log"`
	Reddit  RedditSettings  `mapstructure:"reddit"`
	Data    DataSettings    `mapstructure:"data"`
	Model   ModelSettings   `mapstructure:"model"`
	Monitor MonitorSettings `mapstructure:"monitor"`
}

// DatabasePath is the SQLite file holding records, catalog and predictions.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.Data.Dir, "autoflair.db")
}

// flagKeys maps command-line flags to setting keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-file":       "log.file",
	"subreddit":      "reddit.subreddit",
	"data-dir":       "data.dir",
	"posts":          "data.posts_to_extract",
	"model-path":     "model.path",
	"seed":           "model.seed",
	"min-accuracy":   "model.min_accuracy",
	"wait-threshold": "monitor.wait_threshold",
	"metrics-addr":   "monitor.metrics_addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("reddit.user_agent", "autoflair/1.0")
	v.SetDefault("reddit.base_url", "https://oauth.reddit.com")
	v.SetDefault("reddit.auth_url", "https://www.reddit.com/api/v1/access_token")
	v.SetDefault("reddit.requests_per_minute", 60)
	v.SetDefault("reddit.poll_interval", 15*time.Second)

	v.SetDefault("data.dir", "data")
	v.SetDefault("data.posts_to_extract", 1000)

	v.SetDefault("model.max_title_length", 50)
	v.SetDefault("model.max_body_length", 1000)
	v.SetDefault("model.max_domain_length", 1)
	v.SetDefault("model.smoothing", 1.0)
	v.SetDefault("model.seed", -1)
	v.SetDefault("model.min_accuracy", 0.0)
	v.SetDefault("model.path", filepath.Join("data", "model"))

	v.SetDefault("monitor.wait_threshold", 30*time.Minute)
	v.SetDefault("monitor.backoff_delay", 30*time.Second)
	v.SetDefault("monitor.seen_cache_size", 4096)
}

// Load reads settings. Priority: flags > environment > config file > defaults.
// An empty path skips the config file; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %v: %w", path, err, internalerr.ErrInvalidConfig)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about; secrets
	// have no default so they are bound explicitly.
	for _, key := range []string{"reddit.client_id", "reddit.client_secret", "reddit.username", "reddit.password", "reddit.subreddit", "log.file", "monitor.metrics_addr"} {
		_ = v.BindEnv(key)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %v: %w", err, internalerr.ErrInvalidConfig)
	}
	s.Data.Dir = expandHomeDir(s.Data.Dir)
	s.Model.Path = expandHomeDir(s.Model.Path)
	s.Log.File = expandHomeDir(s.Log.File)
	return &s, nil
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), internalerr.ErrInvalidConfig)
}

// Validate checks the settings needed by every command.
func Validate(s *Settings) error {
	if _, err := zapcore.ParseLevel(s.Log.Level); err != nil {
		return invalid("log.level %q", s.Log.Level)
	}
	if s.Model.MaxTitleLength <= 0 || s.Model.MaxBodyLength <= 0 || s.Model.MaxDomainLength <= 0 {
		return invalid("model max lengths must be positive, got title=%d body=%d domain=%d",
			s.Model.MaxTitleLength, s.Model.MaxBodyLength, s.Model.MaxDomainLength)
	}
	if s.Model.Smoothing <= 0 {
		return invalid("model.smoothing must be positive, got %v", s.Model.Smoothing)
	}
	if s.Model.MinAccuracy < 0 || s.Model.MinAccuracy > 1 {
		return invalid("model.min_accuracy must be within [0, 1], got %v", s.Model.MinAccuracy)
	}
	if s.Model.Path == "" {
		return invalid("model.path is required")
	}
	if s.Data.Dir == "" {
		return invalid("data.dir is required")
	}
	if s.Data.PostsToExtract <= 0 {
		return invalid("data.posts_to_extract must be positive, got %d", s.Data.PostsToExtract)
	}
	if s.Monitor.WaitThreshold < 0 {
		return invalid("monitor.wait_threshold must not be negative, got %s", s.Monitor.WaitThreshold)
	}
	if s.Monitor.BackoffDelay <= 0 {
		return invalid("monitor.backoff_delay must be positive, got %s", s.Monitor.BackoffDelay)
	}
	return nil
}

// ValidateReddit checks the settings needed to reach the feed.
func ValidateReddit(s *Settings) error {
	r := s.Reddit
	if r.Subreddit == "" {
		return invalid("reddit.subreddit is required")
	}
	if r.ClientID == "" || r.ClientSecret == "" {
		return invalid("reddit.client_id and reddit.client_secret are required")
	}
	if r.Username == "" || r.Password == "" {
		return invalid("reddit.username and reddit.password are required")
	}
	if r.UserAgent == "" {
		return invalid("reddit.user_agent is required")
	}
	if r.RequestsPerMinute <= 0 {
		return invalid("reddit.requests_per_minute must be positive, got %d", r.RequestsPerMinute)
	}
	if r.PollInterval <= 0 {
		return invalid("reddit.poll_interval must be positive, got %s", r.PollInterval)
	}
	return nil
}

// LogFields returns the resolved settings as log fields with secrets masked.
func LogFields(s *Settings) []zap.Field {
	return []zap.Field{
		zap.String("log.level", s.Log.Level),
		zap.String("reddit.subreddit", s.Reddit.Subreddit),
		zap.String("reddit.username", s.Reddit.Username),
		zap.String("reddit.client_secret", mask(s.Reddit.ClientSecret)),
		zap.String("reddit.password", mask(s.Reddit.Password)),
		zap.String("data.dir", s.Data.Dir),
		zap.Int("data.posts_to_extract", s.Data.PostsToExtract),
		zap.String("model.path", s.Model.Path),
		zap.Duration("monitor.wait_threshold", s.Monitor.WaitThreshold),
		zap.Duration("monitor.backoff_delay", s.Monitor.BackoffDelay),
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
