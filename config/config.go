// Package config loads server configuration from defaults, an optional .env
// file, PTA_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved server configuration.
type Config struct {
	Port int

	DBDriver string // sqlite3, postgres or memory
	DBDSN    string

	JWTSecret string
	JWTTTL    time.Duration

	LogLevel string

	// SweepInterval runs the overdue sweeper on a ticker. Zero disables it.
	SweepInterval time.Duration

	NotifyBackend   string // log, kafka or sendgrid
	NotifyBatchSize int
	NotifyPace      time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	SendGridAPIKey string
	MailFrom       string
	MailFromName   string

	CORSOrigins []string
}

const envPrefix = "PTA"

// New returns a viper instance with defaults and environment binding.
// Values from a .env file in the working directory (or PTA_ENV_FILE) are
// loaded into the process environment first; real environment variables win.
func New() (*viper.Viper, error) {
	envFile := os.Getenv(envPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db.driver", "sqlite3")
	v.SetDefault("db.dsn", "./data/pta.db")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("sweep.interval", time.Duration(0))
	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.batch_size", 10)
	v.SetDefault("notify.pace", time.Second)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "pta.notifications")
	v.SetDefault("sendgrid.api_key", "")
	v.SetDefault("mail.from", "noreply@localhost")
	v.SetDefault("mail.from_name", "PTA Treasurer")
	v.SetDefault("cors.origins", []string{"*"})
}

// BindFlags lets command-line flags override file and environment values.
// Flag names use dashes: --db-driver binds db.driver.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", ".")
		err = v.BindPFlag(key, f)
	})
	return err
}

// Load resolves and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Port:            v.GetInt("port"),
		DBDriver:        v.GetString("db.driver"),
		DBDSN:           v.GetString("db.dsn"),
		JWTSecret:       v.GetString("jwt.secret"),
		JWTTTL:          v.GetDuration("jwt.ttl"),
		LogLevel:        v.GetString("log.level"),
		SweepInterval:   v.GetDuration("sweep.interval"),
		NotifyBackend:   v.GetString("notify.backend"),
		NotifyBatchSize: v.GetInt("notify.batch_size"),
		NotifyPace:      v.GetDuration("notify.pace"),
		KafkaBrokers:    splitList(v.GetStringSlice("kafka.brokers")),
		KafkaTopic:      v.GetString("kafka.topic"),
		SendGridAPIKey:  v.GetString("sendgrid.api_key"),
		MailFrom:        v.GetString("mail.from"),
		MailFromName:    v.GetString("mail.from_name"),
		CORSOrigins:     splitList(v.GetStringSlice("cors.origins")),
	}
	return c, c.Validate()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	switch c.DBDriver {
	case "sqlite3", "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("db.driver %q is not one of sqlite3, postgres, memory", c.DBDriver))
	}
	if c.DBDriver != "memory" && c.DBDSN == "" {
		problems = append(problems, "db.dsn is required")
	}
	if len(c.JWTSecret) < 16 {
		problems = append(problems, "jwt.secret must be at least 16 characters")
	}
	if c.JWTTTL <= 0 {
		problems = append(problems, "jwt.ttl must be positive")
	}
	if c.SweepInterval < 0 {
		problems = append(problems, "sweep.interval must not be negative")
	}
	switch c.NotifyBackend {
	case "log":
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			problems = append(problems, "kafka.brokers and kafka.topic are required for the kafka backend")
		}
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			problems = append(problems, "sendgrid.api_key is required for the sendgrid backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("notify.backend %q is not one of log, kafka, sendgrid", c.NotifyBackend))
	}
	if c.NotifyBatchSize <= 0 {
		problems = append(problems, "notify.batch_size must be positive")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated value,
// which is how list settings arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
