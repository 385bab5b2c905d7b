package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacedge/tacgate/pkg/config"
	"github.com/tacedge/tacgate/pkg/types"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-signing-secret")
	t.Setenv("ENCRYPTION_KEY", "test-master-key")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 24*time.Hour, cfg.QueueTTL)
	assert.Equal(t, 2*time.Second, cfg.DrainInterval)
	assert.Equal(t, "audit_logs", cfg.AuditDir)
	assert.Equal(t, 10_000, cfg.AuditCapacity)
	assert.False(t, cfg.AllowPlaintextFallback)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENCRYPTION_KEY", "k")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrMissingJWTSecret)
}

func TestLoad_RequiresMasterKeyUnlessFallbackEnabled(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ENCRYPTION_KEY", "")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrMissingMasterKey)

	t.Setenv("ALLOW_PLAINTEXT_FALLBACK", "true")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.AllowPlaintextFallback)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("PORT", "9090")
	t.Setenv("QUEUE_TTL", "30m")
	t.Setenv("AUDIT_CAPACITY", "500")
	t.Setenv("CONNECTED_NODES", "NODE-ALPHA, NODE-CHARLIE,")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.QueueTTL)
	assert.Equal(t, 500, cfg.AuditCapacity)
	assert.Equal(t, []string{"NODE-ALPHA", "NODE-CHARLIE"}, cfg.ConnectedNodes)
}

func TestLoadPolicy_EmptyPathReturnsDefaults(t *testing.T) {
	policy, err := config.LoadPolicy("")
	require.NoError(t, err)

	assert.Equal(t, "default", policy.Name)
	assert.Equal(t, 24*time.Hour, policy.Queue.TTL)
	require.Len(t, policy.Nodes, 2)
	assert.Equal(t, "NODE-ALPHA", policy.Nodes[0].NodeID)
}

func TestLoadPolicy_ParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
name: field-exercise
queue:
  ttl: 1h
  max_retries: 3
  ttl_by_class:
    FLASH: 10m
nodes:
  - node_id: NODE-CHARLIE
    connected: true
    max_classification: SECRET
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	policy, err := config.LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, "field-exercise", policy.Name)
	assert.Equal(t, 10*time.Minute, policy.TTLFor(types.PrecedenceFlash))
	assert.Equal(t, time.Hour, policy.TTLFor(types.PrecedenceRoutine))
}

func TestLoadPolicy_RejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"zero ttl":           "queue:\n  ttl: 0\n",
		"unknown precedence": "queue:\n  ttl: 1h\n  ttl_by_class:\n    URGENT: 5m\n",
		"duplicate node": `queue:
  ttl: 1h
nodes:
  - node_id: NODE-A
  - node_id: NODE-A
`,
		"bad classification": `queue:
  ttl: 1h
nodes:
  - node_id: NODE-A
    max_classification: ULTRA
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
			_, err := config.LoadPolicy(path)
			assert.Error(t, err)
		})
	}
}
