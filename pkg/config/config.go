package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseCommandFlags parses the command line flags shared by the daemon and
// returns their values plus the set of flags the user explicitly provided.
// Explicit flags win over env and config file values.
func ParseCommandFlags() (addr, cfgPath string, setFlags map[string]bool) {
	addrFlag := flag.String("addr", "", "local gateway listen address (host:port)")
	cfgFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrFlag, *cfgFlag, setFlags
}

// ResolveConfigPath picks the config file path: an explicit flag wins, then
// RIDECHAT_CONFIG, then the conventional default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := os.Getenv("RIDECHAT_CONFIG"); p != "" {
		return p
	}
	return "ridechat.yaml"
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEffective builds the effective configuration: file values (when the
// file exists) overridden by RIDECHAT_* env vars, with defaults filled in.
// The second return reports whether any env override was applied.
func LoadEffective(path string) (*Config, bool, error) {
	cfg := &Config{}
	if path != "" {
		if loaded, err := Load(path); err == nil {
			cfg = loaded
		} else if !os.IsNotExist(err) {
			return nil, false, err
		}
	}
	envUsed := applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, envUsed, nil
}

// Token resolves the backend credential: inline value first, then the token
// file, then the RIDECHAT_TOKEN env var.
func (c *Config) Token() (string, error) {
	if t := strings.TrimSpace(c.Backend.Token); t != "" {
		return t, nil
	}
	if c.Backend.TokenFile != "" {
		b, err := os.ReadFile(c.Backend.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	if t := strings.TrimSpace(os.Getenv("RIDECHAT_TOKEN")); t != "" {
		return t, nil
	}
	return "", fmt.Errorf("no credential configured (backend.token, backend.token_file or RIDECHAT_TOKEN)")
}

func applyEnv(cfg *Config) bool {
	used := false
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			used = true
		}
	}
	setStr(&cfg.Server.Address, "RIDECHAT_ADDRESS")
	if v := strings.TrimSpace(os.Getenv("RIDECHAT_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
			used = true
		}
	}
	setStr(&cfg.Backend.BaseURL, "RIDECHAT_BACKEND_URL")
	setStr(&cfg.Backend.WSURL, "RIDECHAT_WS_URL")
	setStr(&cfg.Backend.TokenFile, "RIDECHAT_TOKEN_FILE")
	setStr(&cfg.Channel.Transport, "RIDECHAT_CHANNEL_TRANSPORT")
	setStr(&cfg.Channel.NATS.URL, "RIDECHAT_NATS_URL")
	setStr(&cfg.Chat.RideID, "RIDECHAT_RIDE_ID")
	setStr(&cfg.Chat.Peer, "RIDECHAT_PEER")
	setStr(&cfg.Chat.Conversation, "RIDECHAT_CONVERSATION")
	setStr(&cfg.Archive.Path, "RIDECHAT_ARCHIVE_PATH")
	setStr(&cfg.Logging.Level, "RIDECHAT_LOG_LEVEL")
	return used
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8099
	}
	if cfg.Channel.Transport == "" {
		cfg.Channel.Transport = "websocket"
	}
	if cfg.Channel.NATS.Stream == "" {
		cfg.Channel.NATS.Stream = "CHAT"
	}
	if cfg.Channel.NATS.SubjectPrefix == "" {
		cfg.Channel.NATS.SubjectPrefix = "chat"
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = "./archive"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
