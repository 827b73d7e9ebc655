package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.NotEmpty(t, cfg.DatabaseURL)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Empty(t, cfg.SMTPHost)
	assert.Empty(t, cfg.MCPPort)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.True(t, cfg.MinioUseSSL)
}

func TestCORSOriginsSplitAndTrim(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg := Load()

	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, 587, cfg.SMTPPort)
}
