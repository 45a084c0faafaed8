package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := fromViper(v)
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, StorageBackendLocal, cfg.Evidence.StorageBackend)
	assert.Equal(t, 1, cfg.Evidence.Parallelism)
	assert.Equal(t, 5*time.Minute, cfg.Evidence.TransferTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Evidence.ProgressInterval)
	assert.Equal(t, int64(512*1024), cfg.Evidence.PreviewMaxBytes)
	assert.False(t, cfg.Database.AutoMigrate)
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("EVIDENCE_PARALLELISM", 4)
	v.Set("EVIDENCE_TRANSFER_TIMEOUT", "not-a-duration")
	v.Set("EVIDENCE_STORAGE_BACKEND", " S3 ")
	v.Set("S3_BUCKET", "evidence")
	v.Set("S3_USE_PATH_STYLE", true)
	v.Set("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := fromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Evidence.Parallelism)
	assert.Equal(t, 5*time.Minute, cfg.Evidence.TransferTimeout)
	assert.Equal(t, StorageBackendS3, cfg.Evidence.StorageBackend)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestRejectsIncompleteStorage(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("EVIDENCE_STORAGE_BACKEND", "s3")
	_, err := fromViper(v)
	require.Error(t, err)

	v.Set("EVIDENCE_STORAGE_BACKEND", "ftp")
	_, err = fromViper(v)
	require.Error(t, err)
}
