package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "KAFKA_BROKERS", "KAFKA_ENABLED", "IMPORT_LOCK_TTL", "PARTICIPATION_NO_TICKET_PRICE", "OIDC_ISSUER", "TIME_ZONE"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, ":8085", cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Import.LockTTL)
	assert.Equal(t, int64(10<<20), cfg.Import.MaxUploadSize)
	assert.Equal(t, "23", cfg.Participation.StandardAmount.String())
	assert.Equal(t, "27", cfg.Participation.NoTicketPrice.String())
	assert.False(t, cfg.Auth.Active(), "auth without issuer is inactive")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PUBLIC_URL", "https://tickets.example.com/")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("IMPORT_LOCK_TTL", "30s")
	t.Setenv("PARTICIPATION_TICKET_PRICE", "19.50")
	t.Setenv("OIDC_ISSUER", "https://auth.example.com/realms/club")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("TIME_ZONE", "UTC")

	cfg := Load()

	assert.Equal(t, "https://tickets.example.com", cfg.Server.PublicURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Import.LockTTL)
	assert.Equal(t, "19.5", cfg.Participation.TicketPrice.String())
	assert.True(t, cfg.Auth.Active())
	assert.Equal(t, time.UTC, cfg.Participation.Location)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "many")
	t.Setenv("AUTO_MIGRATE", "perhaps")
	t.Setenv("PARTICIPATION_STANDARD_AMOUNT", "-5")
	t.Setenv("IMPORT_LOCK_TTL", "soon")

	cfg := Load()

	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "23", cfg.Participation.StandardAmount.String())
	assert.Equal(t, 2*time.Minute, cfg.Import.LockTTL)
}
