// Package config собирает настройки сервиса из config.yaml и переменных окружения.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Политики повторной отправки ответа поставщиком
const (
	ReplyOverwrite = "overwrite"
	ReplyReject    = "reject"
)

// Политики выбора победителя по позиции
const (
	AwardAllowMultiple = "allow-multiple"
	AwardExclusive     = "exclusive"
)

type Config struct {
	ServerAddress  string
	PostgresConn   string
	MigrationsAuto bool

	TokenSecret string
	TokenTTL    time.Duration

	RedisURL string
	LockTTL  time.Duration

	ReplyPolicy    string
	AwardPolicy    string
	MaxUploadBytes int64

	Notify NotifyConfig
	Google GoogleConfig
	Dynamo DynamoConfig
}

type NotifyConfig struct {
	QueueSize   int
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

type GoogleConfig struct {
	GmailCredentialsFile string
	GmailSender          string
	DriveCredentialsFile string
	DriveParentFolderID  string
}

type DynamoConfig struct {
	Region       string
	Endpoint     string
	JournalTable string
}

// rawConfig повторяет структуру YAML
type rawConfig struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Postgres struct {
		Conn       string `yaml:"conn"`
		Migrations *bool  `yaml:"migrations"`
	} `yaml:"postgres"`
	Token struct {
		Secret string `yaml:"secret"`
		TTL    string `yaml:"ttl"`
	} `yaml:"token"`
	Redis struct {
		URL     string `yaml:"url"`
		LockTTL string `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Reply struct {
		Policy         string `yaml:"policy"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"reply"`
	Award struct {
		Policy string `yaml:"policy"`
	} `yaml:"award"`
	Notify struct {
		QueueSize   int    `yaml:"queue_size"`
		Workers     int    `yaml:"workers"`
		Timeout     string `yaml:"timeout"`
		MaxAttempts int    `yaml:"max_attempts"`
		Backoff     string `yaml:"backoff"`
	} `yaml:"notify"`
	Google struct {
		GmailCredentialsFile string `yaml:"gmail_credentials_file"`
		GmailSender          string `yaml:"gmail_sender"`
		DriveCredentialsFile string `yaml:"drive_credentials_file"`
		DriveParentFolderID  string `yaml:"drive_parent_folder_id"`
	} `yaml:"google"`
	Dynamo struct {
		Region       string `yaml:"region"`
		Endpoint     string `yaml:"endpoint"`
		JournalTable string `yaml:"journal_table"`
	} `yaml:"dynamodb"`
}

// Load читает конфигурацию сервера и проверяет её целиком
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTokens читает ту же конфигурацию для утилит, которым нужен только
// секрет ссылок; Postgres и политики не проверяются.
func LoadTokens() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("TOKEN_SECRET is not set")
	}
	return cfg, nil
}

// read читает config.yaml (если он есть, ${VAR} раскрываются) и переменные окружения.
// Переменные окружения имеют приоритет над файлом.
func read() (*Config, error) {
	path := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// файл необязателен
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	migrations := true
	if raw.Postgres.Migrations != nil {
		migrations = *raw.Postgres.Migrations
	}

	cfg := &Config{
		ServerAddress:  envOrDefault("SERVER_ADDRESS", firstNonEmpty(raw.Server.Address, "0.0.0.0:8080")),
		PostgresConn:   envOrDefault("POSTGRES_CONN", raw.Postgres.Conn),
		MigrationsAuto: envOrDefaultBool("POSTGRES_MIGRATIONS", migrations),

		TokenSecret: envOrDefault("TOKEN_SECRET", raw.Token.Secret),
		TokenTTL:    envOrDefaultDuration("TOKEN_TTL", parseDuration(raw.Token.TTL, 0)),

		RedisURL: envOrDefault("REDIS_URL", raw.Redis.URL),
		LockTTL:  envOrDefaultDuration("LOCK_TTL", parseDuration(raw.Redis.LockTTL, 2*time.Minute)),

		ReplyPolicy:    strings.ToLower(envOrDefault("REPLY_POLICY", firstNonEmpty(raw.Reply.Policy, ReplyOverwrite))),
		AwardPolicy:    strings.ToLower(envOrDefault("AWARD_POLICY", firstNonEmpty(raw.Award.Policy, AwardAllowMultiple))),
		MaxUploadBytes: int64(envOrDefaultInt("MAX_UPLOAD_BYTES", int(positive64(raw.Reply.MaxUploadBytes, 32<<20)))),

		Notify: NotifyConfig{
			QueueSize:   envOrDefaultInt("NOTIFY_QUEUE_SIZE", positive(raw.Notify.QueueSize, 256)),
			Workers:     envOrDefaultInt("NOTIFY_WORKERS", positive(raw.Notify.Workers, 2)),
			Timeout:     envOrDefaultDuration("NOTIFY_TIMEOUT", parseDuration(raw.Notify.Timeout, 10*time.Second)),
			MaxAttempts: envOrDefaultInt("NOTIFY_MAX_ATTEMPTS", positive(raw.Notify.MaxAttempts, 3)),
			Backoff:     envOrDefaultDuration("NOTIFY_BACKOFF", parseDuration(raw.Notify.Backoff, 2*time.Second)),
		},
		Google: GoogleConfig{
			GmailCredentialsFile: envOrDefault("GMAIL_CREDENTIALS_FILE", raw.Google.GmailCredentialsFile),
			GmailSender:          envOrDefault("GMAIL_SENDER", raw.Google.GmailSender),
			DriveCredentialsFile: envOrDefault("DRIVE_CREDENTIALS_FILE", raw.Google.DriveCredentialsFile),
			DriveParentFolderID:  envOrDefault("DRIVE_PARENT_FOLDER_ID", raw.Google.DriveParentFolderID),
		},
		Dynamo: DynamoConfig{
			Region:       envOrDefault("AWS_REGION", firstNonEmpty(raw.Dynamo.Region, "us-east-1")),
			Endpoint:     envOrDefault("DYNAMODB_ENDPOINT", raw.Dynamo.Endpoint),
			JournalTable: envOrDefault("NOTIFY_JOURNAL_TABLE", raw.Dynamo.JournalTable),
		},
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PostgresConn == "" {
		return errors.New("POSTGRES_CONN is not set")
	}
	switch c.ReplyPolicy {
	case ReplyOverwrite, ReplyReject:
	default:
		return fmt.Errorf("unknown reply policy %q", c.ReplyPolicy)
	}
	switch c.AwardPolicy {
	case AwardAllowMultiple, AwardExclusive:
	default:
		return fmt.Errorf("unknown award policy %q", c.AwardPolicy)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		return d
	}
	return fallback
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func positive64(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
