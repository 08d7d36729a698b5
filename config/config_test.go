package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "badger")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 5, cfg.ReactionMaxAttempts)
	assert.Equal(t, 100, cfg.CascadeBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.ResubscribeInitial)
	assert.Equal(t, 3, cfg.FaultThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REACTION_MAX_ATTEMPTS", "9")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.ReactionMaxAttempts)
	assert.Equal(t, "9090", cfg.ServerPort)
}

func TestValidate(t *testing.T) {
	base := Config{
		StoreDriver:         "mysql",
		ReactionMaxAttempts: 1,
		CommentMaxAttempts:  1,
		CascadeBatchSize:    1,
		FaultThreshold:      1,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.StoreDriver = "firestore"
	assert.ErrorContains(t, bad.Validate(), "STORE_DRIVER")

	bad = base
	bad.ReactionMaxAttempts = 0
	assert.ErrorContains(t, bad.Validate(), "REACTION_MAX_ATTEMPTS")
}

func TestDSN(t *testing.T) {
	cfg := Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "1", DBName: "d"}
	assert.Equal(t, "u:p@tcp(h:1)/d?charset=utf8mb4&parseTime=True&loc=UTC", cfg.MySQLDSN())

	cfg = Config{MQUser: "g", MQPassword: "g", MQHost: "mq", MQPort: "5672"}
	assert.Equal(t, "amqp://g:g@mq:5672/", cfg.RabbitURL())
}
