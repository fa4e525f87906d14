package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "fern", cfg.AppName)
	assert.Equal(t, 25, cfg.ResolverMaxDepth)
	assert.Equal(t, 0.85, cfg.NearDuplicateThreshold)
	assert.Equal(t, "UNFREEZE", cfg.UnfreezePhrasePrefix)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, "code-events", cfg.KafkaOutputTopic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
}

func TestLoad_EnvironmentAndEnvFile(t *testing.T) {
	t.Setenv("RESOLVER_MAX_DEPTH", "10")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("STORE_DRIVER=memory\nUNFREEZE_PHRASE_PREFIX=THAW\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE_DRIVER")
		os.Unsetenv("UNFREEZE_PHRASE_PREFIX")
	})

	cfg, err := config.Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ResolverMaxDepth)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "THAW", cfg.UnfreezePhrasePrefix)
}

func TestLoad_RejectsUnknownStoreDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := config.Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &config.Config{DatabaseHost: "db", DatabasePort: "5432", DatabaseUserName: "u", DatabasePassword: "p", DatabaseName: "fern", DatabaseSSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fern sslmode=disable", cfg.DatabaseDSN())
}
