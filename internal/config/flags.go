package config

import (
	"flag"
	"os"
	"time"

	"github.com/phorest/code-push-server/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-m string   storage backend, "postgres" or "memory"
//	-d string   PostgreSQL DSN
//	-r int      conditional-update max retries
//	-w int      conditional-update base backoff, milliseconds
//	-o string   download URL host prefix
//	-s string   download token HMAC secret (empty disables signing)
//	-v int      download token validity, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-m", "-d", "-r", "-w", "-o", "-s", "-v", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.StorageBackend, "m", config.StorageBackend, "storage backend (postgres or memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.IntVar(&config.UpdateMaxRetries, "r", config.UpdateMaxRetries, "conditional update max retries")

	retryBase := fs.Int("w", int(config.UpdateRetryBase.Milliseconds()), "conditional update base backoff (in milliseconds)")

	fs.StringVar(&config.DownloadURLHost, "o", config.DownloadURLHost, "download URL host prefix")
	fs.StringVar(&config.DownloadTokenSecret, "s", config.DownloadTokenSecret, "download token secret")

	tokenValidity := fs.Int("v", int(config.DownloadTokenValidity.Minutes()), "download token validity (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.UpdateRetryBase = time.Duration(*retryBase) * time.Millisecond
	config.DownloadTokenValidity = time.Duration(*tokenValidity) * time.Minute
}
