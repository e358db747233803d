package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App        AppConfig        `toml:"app"`
	Storage    StorageConfig    `toml:"storage"`
	Redis      RedisConfig      `toml:"redis"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Dedup      DedupConfig      `toml:"dedup"`
	Enrich     EnrichConfig     `toml:"enrich"`
	Moderation ModerationConfig `toml:"moderation"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Affiliate  AffiliateConfig  `toml:"affiliate"`
	Publish    PublishConfig    `toml:"publish"`
	Sources    []SourceConfig   `toml:"sources"`
}

type AppConfig struct {
	Name            string `toml:"name"`
	Partitions      int    `toml:"partitions"`
	QueueDepth      int    `toml:"queue_depth"`
	StaleAfter      string `toml:"stale_after"`
	RecoveryEvery   string `toml:"recovery_interval"`
	MetricsListen   string `toml:"metrics_listen"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type StorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type ScoringConfig struct {
	SourceWeightFactor float64  `toml:"source_weight_factor"`
	LengthWeight       float64  `toml:"length_weight"`
	TargetLength       int      `toml:"target_length"`
	KeywordWeight      float64  `toml:"keyword_weight"`
	Keywords           []string `toml:"keywords"`
	LanguageWeight     float64  `toml:"language_weight"`
	PostLanguage       string   `toml:"post_language"`
}

type DedupConfig struct {
	Threshold  float64 `toml:"threshold"`
	Horizon    string  `toml:"horizon"`
	MaxEntries int     `toml:"max_entries"`
	EmbedModel string  `toml:"embed_model"`
}

type EnrichConfig struct {
	Timeout          string `toml:"timeout"`
	RetryBackoff     string `toml:"retry_backoff"`
	TranslationModel string `toml:"translation_model"`
	ImageModel       string `toml:"image_model"`
}

type ModerationConfig struct {
	AutoApprove      float64 `toml:"auto_approve"`
	AutoReject       float64 `toml:"auto_reject"`
	EscalationWindow string  `toml:"escalation_window"`
	FallbackPolicy   string  `toml:"fallback_policy"`
	PollInterval     string  `toml:"poll_interval"`
}

type ScheduleConfig struct {
	MaxPerDay     int    `toml:"max_per_day"`
	MinInterval   string `toml:"min_interval"`
	WindowStart   int    `toml:"window_start_hour"`
	WindowEnd     int    `toml:"window_end_hour"`
	LookaheadDays int    `toml:"lookahead_days"`
}

type AffiliateConfig struct {
	Frequency  int          `toml:"frequency"`
	Disclosure string       `toml:"disclosure"`
	Links      []LinkConfig `toml:"links"`
}

type LinkConfig struct {
	Name   string  `toml:"name"`
	URL    string  `toml:"url"`
	Text   string  `toml:"text"`
	Weight float64 `toml:"weight"`
}

type PublishConfig struct {
	BotToken    string `toml:"bot_token"`
	ChannelName string `toml:"channel"`
	MaxAttempts int    `toml:"max_attempts"`
	PerMinute   int    `toml:"per_minute"`
}

type SourceConfig struct {
	Name       string  `toml:"name"`
	Platform   string  `toml:"platform"`
	Identifier string  `toml:"identifier"`
	Weight     float64 `toml:"weight"`
	Language   string  `toml:"language"`
	Enabled    bool    `toml:"enabled"`
	Poll       string  `toml:"poll"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.App.Name == "" {
		config.App.Name = "autopost"
	}
	if config.App.Partitions <= 0 {
		config.App.Partitions = 4
	}
	if config.App.QueueDepth <= 0 {
		config.App.QueueDepth = 64
	}
	if err := defaultDuration(&config.App.StaleAfter, "30m"); err != nil {
		return fmt.Errorf("invalid stale_after: %w", err)
	}
	if err := defaultDuration(&config.App.RecoveryEvery, "5m"); err != nil {
		return fmt.Errorf("invalid recovery_interval: %w", err)
	}
	if err := defaultDuration(&config.App.ShutdownTimeout, "30s"); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}
	if config.Storage.Path == "" {
		config.Storage.Path = "./autopost.db"
	}

	if config.Scoring.TargetLength <= 0 {
		config.Scoring.TargetLength = 280
	}
	if config.Scoring.PostLanguage == "" {
		config.Scoring.PostLanguage = "en"
	}
	if config.Scoring.SourceWeightFactor == 0 && config.Scoring.LengthWeight == 0 &&
		config.Scoring.KeywordWeight == 0 && config.Scoring.LanguageWeight == 0 {
		config.Scoring.SourceWeightFactor = 0.5
		config.Scoring.LengthWeight = 0.2
		config.Scoring.KeywordWeight = 0.2
		config.Scoring.LanguageWeight = 0.1
	}

	if config.Dedup.Threshold <= 0 || config.Dedup.Threshold > 1 {
		config.Dedup.Threshold = 0.7
	}
	if err := defaultDuration(&config.Dedup.Horizon, "72h"); err != nil {
		return fmt.Errorf("invalid dedup horizon: %w", err)
	}
	if config.Dedup.MaxEntries <= 0 {
		config.Dedup.MaxEntries = 1000
	}

	if err := defaultDuration(&config.Enrich.Timeout, "30s"); err != nil {
		return fmt.Errorf("invalid enrich timeout: %w", err)
	}
	if err := defaultDuration(&config.Enrich.RetryBackoff, "2s"); err != nil {
		return fmt.Errorf("invalid enrich retry_backoff: %w", err)
	}

	if config.Moderation.AutoApprove == 0 {
		config.Moderation.AutoApprove = 0.6
	}
	if config.Moderation.AutoReject == 0 {
		config.Moderation.AutoReject = 0.3
	}
	if config.Moderation.AutoReject >= config.Moderation.AutoApprove {
		return fmt.Errorf("auto_reject cutoff %.2f must be below auto_approve cutoff %.2f",
			config.Moderation.AutoReject, config.Moderation.AutoApprove)
	}
	if err := defaultDuration(&config.Moderation.EscalationWindow, "2h"); err != nil {
		return fmt.Errorf("invalid escalation_window: %w", err)
	}
	if err := defaultDuration(&config.Moderation.PollInterval, "30s"); err != nil {
		return fmt.Errorf("invalid moderation poll_interval: %w", err)
	}
	switch config.Moderation.FallbackPolicy {
	case "":
		config.Moderation.FallbackPolicy = "reject"
	case "approve", "reject":
	default:
		return fmt.Errorf("unknown fallback_policy: %s", config.Moderation.FallbackPolicy)
	}

	if config.Schedule.MaxPerDay <= 0 {
		config.Schedule.MaxPerDay = 10
	}
	if err := defaultDuration(&config.Schedule.MinInterval, "30m"); err != nil {
		return fmt.Errorf("invalid min_interval: %w", err)
	}
	if config.Schedule.WindowEnd == 0 {
		config.Schedule.WindowStart = 8
		config.Schedule.WindowEnd = 22
	}
	if config.Schedule.WindowStart < 0 || config.Schedule.WindowEnd > 24 ||
		config.Schedule.WindowStart >= config.Schedule.WindowEnd {
		return fmt.Errorf("invalid allowed hours window: %d-%d",
			config.Schedule.WindowStart, config.Schedule.WindowEnd)
	}
	if config.Schedule.LookaheadDays <= 0 {
		config.Schedule.LookaheadDays = 7
	}

	if config.Affiliate.Frequency <= 0 {
		config.Affiliate.Frequency = 5
	}

	if config.Publish.MaxAttempts <= 0 {
		config.Publish.MaxAttempts = 4
	}
	if config.Publish.PerMinute <= 0 {
		config.Publish.PerMinute = 20
	}

	for i := range config.Sources {
		src := &config.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
		if src.Weight == 0 {
			src.Weight = 1.0
		}
		if err := defaultDuration(&src.Poll, "15m"); err != nil {
			return fmt.Errorf("source %s: invalid poll: %w", src.Name, err)
		}
	}

	return nil
}

func defaultDuration(field *string, fallback string) error {
	if *field == "" {
		*field = fallback
	}
	_, err := time.ParseDuration(*field)
	return err
}

// Duration returns a validated duration field. Config values pass through
// validateConfig before use, so a parse failure here means a programming
// error and the zero duration is returned.
func Duration(field string) time.Duration {
	d, _ := time.ParseDuration(field)
	return d
}
