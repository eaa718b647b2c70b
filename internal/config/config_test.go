package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, StorePostgres, cfg.Store)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []string{"study_session_events"}, cfg.ConsumerTopics)
	require.Equal(t, 5, cfg.DLQMaxRetries)
	require.Equal(t, 3, cfg.ConsumerRetries)
	require.Equal(t, time.UTC, cfg.Location())
}

func TestLoadReadsEnvironmentAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STORE=memory\nDEFAULT_TIME_ZONE=Asia/Tokyo\nOUTBOX_BATCH_SIZE=7\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() {
		_ = os.Unsetenv("DEFAULT_TIME_ZONE")
		_ = os.Unsetenv("OUTBOX_BATCH_SIZE")
	})
	t.Setenv("KAFKA_BROKERS", " a:1, ,b:2 ")
	t.Setenv("OUTBOX_POLL_INTERVAL", "not-a-duration")
	t.Setenv("STORE", "MEMORY")

	cfg := Load()

	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	require.Equal(t, 7, cfg.OutboxBatchSize)
	require.Equal(t, "Asia/Tokyo", cfg.Location().String())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	require.Equal(t, time.UTC, Config{DefaultTimeZone: "Mars/Olympus"}.Location())
}
