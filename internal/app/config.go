package app

import (
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the bot process.
type Config struct {
	AppEnv    string `envconfig:"APP_ENV" default:"development"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	BotToken   string `envconfig:"BOT_TOKEN" required:"true"`
	APIBaseURL string `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`

	// SuperAdmins is the raw comma-separated operator allow-list; use
	// Operators() for the parsed form.
	SuperAdmins string `envconfig:"SUPER_ADMINS"`

	RulesPath string `envconfig:"RULES_PATH" default:"data/db_rules.json"`
	UsersPath string `envconfig:"USERS_PATH" default:"data/db_users.json"`

	ExiftoolPath string `envconfig:"EXIFTOOL_PATH"`

	OpsAddr   string `envconfig:"OPS_ADDR" default:":8081"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	PollTimeout time.Duration `envconfig:"POLL_TIMEOUT" default:"30s"`
	PollMargin  time.Duration `envconfig:"POLL_MARGIN" default:"5s"`
	PollBackoff time.Duration `envconfig:"POLL_BACKOFF" default:"5s"`

	UploadFlowTTL time.Duration `envconfig:"UPLOAD_FLOW_TTL" default:"10m"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("bot token must be provided")
	}
	if cfg.ExiftoolPath == "" {
		cfg.ExiftoolPath = resolveExiftool()
	}
	return &cfg, nil
}

// Operators parses the configured allow-list into principal ids. Tokens that
// are not valid integers are skipped.
func (c *Config) Operators() []int64 {
	if c == nil || c.SuperAdmins == "" {
		return nil
	}
	var ids []int64
	for _, token := range strings.Split(c.SuperAdmins, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// resolveExiftool locates the exiftool binary on PATH, falling back to the
// bare name so a missing binary surfaces at invocation time rather than
// blocking startup.
func resolveExiftool() string {
	if path, err := exec.LookPath("exiftool"); err == nil {
		return path
	}
	return "exiftool"
}
