package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const sampleYAML = `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/chatdb
  cache_size: 64MB
chat:
  allow_guests: true
  max_messages: 200
  max_message_length: 300
  rate_limit: 5
  min_poll_interval: 3s
  max_poll_interval: 15
  effects:
    - effect: confetti
      keyword: party
      emoji: "🎉"
moderation:
  enable_word_filter: true
  blocked_terms:
    - term: spam
    - term: junk
      strategy: word
  exempt_roles: [moderator]
cleanup:
  enabled: true
  cron: "0 3 * * *"
  retain_deleted: 720h
security:
  cors:
    allowed_origins: ["https://example.com"]
  rate_limit:
    rps: 20
    burst: 40
  api_keys:
    signing: [sk1]
    admin: [ak1]
logging:
  level: debug
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Server.CacheSize.Int64() != 64*1000*1000 {
		t.Fatalf("cache_size = %d", cfg.Server.CacheSize.Int64())
	}
	if cfg.Chat.MinPollInterval.Duration() != 3*time.Second {
		t.Fatalf("min_poll_interval = %v", cfg.Chat.MinPollInterval.Duration())
	}
	// bare numbers parse as seconds
	if cfg.Chat.MaxPollInterval.Duration() != 15*time.Second {
		t.Fatalf("max_poll_interval = %v", cfg.Chat.MaxPollInterval.Duration())
	}
	if len(cfg.Moderation.BlockedTerms) != 2 || cfg.Moderation.BlockedTerms[1].Strategy != "word" {
		t.Fatalf("blocked terms: %+v", cfg.Moderation.BlockedTerms)
	}
	if cfg.Cleanup.RetainDeleted.Duration() != 720*time.Hour {
		t.Fatalf("retain_deleted = %v", cfg.Cleanup.RetainDeleted.Duration())
	}
	if len(cfg.Chat.Effects) != 1 || cfg.Chat.Effects[0].Keyword != "party" {
		t.Fatalf("effects: %+v", cfg.Chat.Effects)
	}
	if cfg.Security.APIKeys.Admin[0] != "ak1" {
		t.Fatalf("admin keys: %v", cfg.Security.APIKeys.Admin)
	}
}

func TestLoadBadValues(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte("server:\n  cache_size: lots\n"), &cfg)
	if err == nil {
		t.Fatalf("bad size accepted")
	}
	err = yaml.Unmarshal([]byte("chat:\n  min_poll_interval: soon\n"), &cfg)
	if err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Chat.MaxMessages != 1000 || cfg.Chat.MaxMessageLength != 500 || cfg.Chat.RateLimit != 10 {
		t.Fatalf("chat defaults: %+v", cfg.Chat)
	}
	if cfg.Chat.MinPollInterval.Duration() != 2*time.Second || cfg.Chat.MaxPollInterval.Duration() != 12*time.Second {
		t.Fatalf("poll defaults: %+v", cfg.Chat)
	}
	if cfg.Cleanup.Cron != "0 3 * * *" || cfg.Cleanup.RetainDeleted.Duration() != 30*24*time.Hour {
		t.Fatalf("cleanup defaults: %+v", cfg.Cleanup)
	}

	// configured values stay
	cfg.Chat.MaxMessages = 50
	cfg.ApplyDefaults()
	if cfg.Chat.MaxMessages != 50 {
		t.Fatalf("defaults overwrote configured value")
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("POLLCHAT_ADDR", "0.0.0.0:9191")
	t.Setenv("POLLCHAT_ALLOW_GUESTS", "true")
	t.Setenv("POLLCHAT_BLOCKED_TERMS", "spam, junk")
	t.Setenv("POLLCHAT_SIGNING_KEYS", "sk1,sk2")
	t.Setenv("POLLCHAT_RATE_RPS", "25")

	cfg, res := ParseConfigEnvs()
	if !res.EnvUsed {
		t.Fatalf("env not detected")
	}
	if cfg.Addr() != "0.0.0.0:9191" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if !cfg.Chat.AllowGuests {
		t.Fatalf("allow_guests not parsed")
	}
	if len(cfg.Moderation.BlockedTerms) != 2 || cfg.Moderation.BlockedTerms[1].Term != "junk" {
		t.Fatalf("blocked terms: %+v", cfg.Moderation.BlockedTerms)
	}
	if !cfg.Moderation.EnableWordFilter {
		t.Fatalf("word filter not enabled by terms env")
	}
	if _, ok := res.SigningKeys["sk2"]; !ok {
		t.Fatalf("signing keys: %v", res.SigningKeys)
	}
	if cfg.Security.RateLimit.RPS != 25 {
		t.Fatalf("rps = %v", cfg.Security.RateLimit.RPS)
	}
}

func TestLoadEffectiveConfig(t *testing.T) {
	fileCfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	t.Run("explicit config wins", func(t *testing.T) {
		flags := Flags{Config: "x.yaml", Set: map[string]bool{"config": true}}
		res, err := LoadEffectiveConfig(flags, fileCfg, true, &Config{}, EnvResult{})
		if err != nil {
			t.Fatalf("effective: %v", err)
		}
		if res.Source != "config" || res.Addr != "127.0.0.1:9090" || res.DBPath != "/tmp/chatdb" {
			t.Fatalf("result: %+v", res)
		}
	})

	t.Run("explicit config must exist", func(t *testing.T) {
		flags := Flags{Config: "x.yaml", Set: map[string]bool{"config": true}}
		if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}, EnvResult{}); err == nil {
			t.Fatalf("missing explicit config accepted")
		}
	})

	t.Run("addr flag overrides file", func(t *testing.T) {
		flags := Flags{Addr: ":7070", DB: "./.chatdb", Set: map[string]bool{"addr": true}}
		res, err := LoadEffectiveConfig(flags, fileCfg, true, &Config{}, EnvResult{})
		if err != nil {
			t.Fatalf("effective: %v", err)
		}
		if res.Source != "flags" || res.Addr != ":7070" {
			t.Fatalf("result: %+v", res)
		}
		// db path still comes from the file when the flag was not set
		if res.DBPath != "/tmp/chatdb" {
			t.Fatalf("db path: %q", res.DBPath)
		}
	})

	t.Run("file when present", func(t *testing.T) {
		res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, &Config{}, EnvResult{})
		if err != nil {
			t.Fatalf("effective: %v", err)
		}
		if res.Source != "config" {
			t.Fatalf("source = %q", res.Source)
		}
	})

	t.Run("env as fallback", func(t *testing.T) {
		env := &Config{}
		env.Server.Address = "0.0.0.0"
		env.Server.Port = 9191
		env.Server.DBPath = "/tmp/envdb"
		res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, env, EnvResult{EnvUsed: true})
		if err != nil {
			t.Fatalf("effective: %v", err)
		}
		if res.Source != "env" || res.Addr != "0.0.0.0:9191" || res.DBPath != "/tmp/envdb" {
			t.Fatalf("result: %+v", res)
		}
		if res.Config.Chat.MaxMessages != 1000 {
			t.Fatalf("defaults not applied: %+v", res.Config.Chat)
		}
	})
}
