package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pta-hub/dues-engine/config"
)

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("PTA_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("PTA_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("PTA_DB_DRIVER", "memory")
	t.Setenv("PTA_SWEEP_INTERVAL", "15m")
	t.Setenv("PTA_KAFKA_BROKERS", "k1:9092, k2:9092")

	v, err := config.New()
	require.NoError(t, err)
	c, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, "memory", c.DBDriver)
	assert.Equal(t, 15*time.Minute, c.SweepInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 10, c.NotifyBatchSize)
	assert.Equal(t, time.Second, c.NotifyPace)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PTA_JWT_SECRET=from-dotenv-file-secret\nPTA_PORT=9090\n"), 0o600))
	t.Setenv("PTA_ENV_FILE", path)
	t.Setenv("PTA_JWT_SECRET", "")
	os.Unsetenv("PTA_JWT_SECRET")
	t.Setenv("PTA_PORT", "")
	os.Unsetenv("PTA_PORT")

	v, err := config.New()
	require.NoError(t, err)
	c, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, "from-dotenv-file-secret", c.JWTSecret)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PTA_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("PTA_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("PTA_PORT", "7000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	require.NoError(t, flags.Parse([]string{"--port", "7500"}))

	v, err := config.New()
	require.NoError(t, err)
	require.NoError(t, config.BindFlags(v, flags))
	c, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7500, c.Port)
}

func TestValidate(t *testing.T) {
	base := config.Config{
		Port: 8080, DBDriver: "sqlite3", DBDSN: "x.db",
		JWTSecret: "0123456789abcdef", JWTTTL: time.Hour,
		NotifyBackend: "log", NotifyBatchSize: 10,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"short secret", func(c *config.Config) { c.JWTSecret = "short" }},
		{"bad driver", func(c *config.Config) { c.DBDriver = "mysql" }},
		{"sendgrid without key", func(c *config.Config) { c.NotifyBackend = "sendgrid" }},
		{"negative sweep", func(c *config.Config) { c.SweepInterval = -time.Second }},
		{"zero batch", func(c *config.Config) { c.NotifyBatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
