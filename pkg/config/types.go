package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"pollchat/pkg/format"
)

// Config is the main configuration struct.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Chat       ChatConfig       `yaml:"chat"`
	Moderation ModerationConfig `yaml:"moderation"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds http, tls and storage settings.
type ServerConfig struct {
	Address   string    `yaml:"address"`
	Port      int       `yaml:"port"`
	DBPath    string    `yaml:"db_path"`
	CacheSize SizeBytes `yaml:"cache_size"`
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ChatConfig holds room behavior settings served to clients and enforced
// on ingestion.
type ChatConfig struct {
	AllowGuests      bool `yaml:"allow_guests"`
	MaxMessages      int  `yaml:"max_messages"`
	MaxMessageLength int  `yaml:"max_message_length"`
	// RateLimit is the number of messages a single sender may post per
	// minute. Values are clamped to [1,100] at use sites.
	RateLimit           int      `yaml:"rate_limit"`
	ShowTimestamps      bool     `yaml:"show_timestamps"`
	ShowAvatars         bool     `yaml:"show_avatars"`
	EnableNotifications bool     `yaml:"enable_notifications"`
	EnableSounds        bool     `yaml:"enable_sounds"`
	MinPollInterval     Duration `yaml:"min_poll_interval"`
	MaxPollInterval     Duration `yaml:"max_poll_interval"`
	// Effects are keyword-triggered visual effects annotated into
	// rendered messages.
	Effects []format.EffectEntry `yaml:"effects"`
}

// ModerationConfig holds the word filter and role exemptions.
type ModerationConfig struct {
	EnableWordFilter bool          `yaml:"enable_word_filter"`
	BlockedTerms     []BlockedTerm `yaml:"blocked_terms"`
	ExemptRoles      []string      `yaml:"exempt_roles"`
}

// BlockedTerm is a single filter entry. Strategy is one of "substring",
// "word" or "regex"; empty means substring.
type BlockedTerm struct {
	Term     string `yaml:"term"`
	Strategy string `yaml:"strategy"`
}

// CleanupConfig holds configuration for the automatic cleanup runner.
type CleanupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// RetainDeleted is how long soft-deleted rows are kept before physical
	// removal, e.g. "720h".
	RetainDeleted Duration `yaml:"retain_deleted"`
	Paused        bool     `yaml:"paused"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	APIKeys struct {
		Signing []string `yaml:"signing"`
		Admin   []string `yaml:"admin"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	AuditDir string `yaml:"audit_dir"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	if c == nil {
		return ""
	}
	if c.Server.Address == "" && c.Server.Port == 0 {
		return ""
	}
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// ApplyDefaults fills zero-valued chat and cleanup knobs with their
// documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Chat.MaxMessages <= 0 {
		c.Chat.MaxMessages = 1000
	}
	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = 500
	}
	if c.Chat.RateLimit <= 0 {
		c.Chat.RateLimit = 10
	}
	if c.Chat.MinPollInterval.Duration() <= 0 {
		c.Chat.MinPollInterval = Duration(2 * time.Second)
	}
	if c.Chat.MaxPollInterval.Duration() <= 0 {
		c.Chat.MaxPollInterval = Duration(12 * time.Second)
	}
	if c.Cleanup.Cron == "" {
		c.Cleanup.Cron = "0 3 * * *"
	}
	if c.Cleanup.RetainDeleted.Duration() <= 0 {
		c.Cleanup.RetainDeleted = Duration(30 * 24 * time.Hour)
	}
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
