package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/phorest/code-push-server/internal/flagx"
	"github.com/phorest/code-push-server/internal/timex"
)

// JsonConfig is the intermediate DTO used for reading JSON configuration
// files. It uses timex.Duration for interval fields, which parses both
// string values such as "20ms" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	StorageBackend        string         `json:"storage_backend"`
	DatabaseDSN           string         `json:"database_dsn"`
	UpdateMaxRetries      int            `json:"update_max_retries"`
	UpdateRetryBase       timex.Duration `json:"update_retry_base"`
	DownloadURLHost       string         `json:"download_url_host"`
	DownloadTokenSecret   string         `json:"download_token_secret"`
	DownloadTokenValidity timex.Duration `json:"download_token_validity"`
	S3RootUser            string         `json:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password"`
	S3Bucket              string         `json:"s3_bucket"`
	S3Region              string         `json:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.StorageBackend = c.StorageBackend
	config.DatabaseDSN = c.DatabaseDSN
	config.UpdateMaxRetries = c.UpdateMaxRetries
	config.UpdateRetryBase = time.Duration(c.UpdateRetryBase.Duration)
	config.DownloadURLHost = c.DownloadURLHost
	config.DownloadTokenSecret = c.DownloadTokenSecret
	config.DownloadTokenValidity = time.Duration(c.DownloadTokenValidity.Duration)
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
