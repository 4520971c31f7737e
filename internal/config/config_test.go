package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ACA", cfg.Service.DefaultUploadType)
	assert.Equal(t, "gs://{bucket}", cfg.Source.BucketURL)
	assert.Equal(t, 4, cfg.Trigger.MaxConcurrentMessages)
	assert.Equal(t, "failed/", cfg.Archive.Prefix)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uploader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  default_upload_type: AOUD
  enabled_types: [AOUD, ACM]
ads:
  developer_token: from-file
  timeout: 15s
trigger:
  subscription_url: gcppubsub://projects/p/subscriptions/s
  max_concurrent_messages: 2
upload_types:
  AOUD:
    records_per_request: 5000
    number_of_threads: 2
    target:
      customer_id: "1234567890"
      job_type: STORE_SALES_UPLOAD_FIRST_PARTY
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ADS_DEVELOPER_TOKEN", "from-env")
	t.Setenv("MAX_CONCURRENT_MESSAGES", "8")
	t.Setenv("ENABLED_UPLOAD_TYPES", "AOUD, ACA")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "AOUD", cfg.Service.DefaultUploadType)
	assert.Equal(t, []string{"AOUD", "ACA"}, cfg.Service.EnabledTypes)
	assert.Equal(t, "from-env", cfg.Ads.DeveloperToken)
	assert.Equal(t, 15*time.Second, cfg.Ads.Timeout)
	assert.Equal(t, "gcppubsub://projects/p/subscriptions/s", cfg.Trigger.SubscriptionURL)
	assert.Equal(t, 8, cfg.Trigger.MaxConcurrentMessages)

	aoud := cfg.UploadTypes["AOUD"]
	assert.Equal(t, 5000, aoud.RecordsPerRequest)
	assert.Equal(t, 2, aoud.NumberOfThreads)
	assert.Equal(t, "1234567890", aoud.Target["customer_id"])
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	t.Setenv("MAX_CONCURRENT_MESSAGES", "zero")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("MAX_CONCURRENT_MESSAGES", "0")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("MAX_CONCURRENT_MESSAGES", "1")
	t.Setenv("SOURCE_BUCKET_URL", "gs://fixed")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
