package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "1920x1080", cfg.DefaultResolution)
	assert.Equal(t, 10*time.Minute, cfg.RenderTimeout)
	assert.Equal(t, 1, cfg.SceneConcurrency)
	assert.Equal(t, "Inter", cfg.DefaultFontFamily)
	assert.False(t, cfg.PublishingEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RENDER_TIMEOUT", "90s")
	t.Setenv("SCENE_CONCURRENCY", "3")
	t.Setenv("DEFAULT_RESOLUTION", "1080x1920")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.RenderTimeout)
	assert.Equal(t, 3, cfg.SceneConcurrency)
	assert.Equal(t, "1080x1920", cfg.DefaultResolution)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"DEFAULT_RESOLUTION":  "wide",
		"MAX_CONCURRENT_JOBS": "0",
		"SCENE_CONCURRENCY":   "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSupabaseCredentialsTogether(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "")

	_, err := Load()
	assert.ErrorContains(t, err, "SUPABASE_URL")
}
