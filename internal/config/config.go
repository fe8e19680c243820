// Package config loads turnbridge's settings: secrets and per-process
// values from the environment (the teacher's internal/config.Load shape),
// optionally overlaid with a static turnbridge.yaml defaults file.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration.
type Config struct {
	TelegramToken  string
	AllowedUserIDs []int64
	DiscordToken   string
	DiscordGuildID string

	// SubprocessCommand/Args spawn the agentic CLI that internal/procsup
	// supervises.
	SubprocessCommand string
	SubprocessArgs    []string
	BridgeDataDir     string

	Defaults Defaults
}

// Defaults mirrors the optional turnbridge.yaml static settings file
// (spec §4.2-§4.5's tunables that don't belong in per-process env vars).
type Defaults struct {
	UpdateRateSeconds int    `yaml:"updateRateSeconds"`
	ThreadCharLimit   int    `yaml:"threadCharLimit"`
	ApprovalPolicy    string `yaml:"approvalPolicy"`
	ReasoningEffort   string `yaml:"reasoningEffort"`
}

func defaultDefaults() Defaults {
	return Defaults{
		UpdateRateSeconds: 2,
		ThreadCharLimit:   3500,
		ApprovalPolicy:    "ask",
		ReasoningEffort:   "medium",
	}
}

// Load reads configuration from environment variables (loading a local
// .env file first, the way EternisAI-enchanted-proxy's sibling config does
// for development), then overlays turnbridge.yaml defaults if present.
func Load(log *logrus.Entry) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("config: no .env file found, using environment variables as-is")
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	discordToken := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" && discordToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN or DISCORD_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramToken:     token,
		AllowedUserIDs:    []int64{},
		DiscordToken:      discordToken,
		DiscordGuildID:    os.Getenv("DISCORD_GUILD_ID"),
		SubprocessCommand: getEnvOrDefault("TURNBRIDGE_SUBPROCESS_COMMAND", "claude"),
		BridgeDataDir:     getEnvOrDefault("TURNBRIDGE_DATA_DIR", ".turnbridge"),
		Defaults:          defaultDefaults(),
	}

	if args := os.Getenv("TURNBRIDGE_SUBPROCESS_ARGS"); args != "" {
		cfg.SubprocessArgs = strings.Fields(args)
	}

	if userIDs := os.Getenv("ALLOWED_USER_IDS"); userIDs != "" {
		for _, idStr := range strings.Split(userIDs, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q: %w", idStr, err)
			}
			cfg.AllowedUserIDs = append(cfg.AllowedUserIDs, id)
		}
	}

	defaultsPath := getEnvOrDefault("TURNBRIDGE_CONFIG_FILE", "turnbridge.yaml")
	if err := loadDefaultsFile(defaultsPath, &cfg.Defaults); err != nil {
		return nil, fmt.Errorf("config: %s: %w", defaultsPath, err)
	}

	return cfg, nil
}

// loadDefaultsFile overlays defaults from an optional static yaml file; a
// missing file is not an error, since env vars and built-in defaults are
// sufficient on their own.
func loadDefaultsFile(path string, defaults *Defaults) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	return decodeDefaults(f, defaults)
}

func decodeDefaults(r io.Reader, defaults *Defaults) error {
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(defaults); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// UpdateRate is Defaults.UpdateRateSeconds as a time.Duration.
func (d Defaults) UpdateRate() time.Duration {
	return time.Duration(d.UpdateRateSeconds) * time.Second
}
