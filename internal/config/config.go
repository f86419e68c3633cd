// Package config handles configuration for the vaultguard CLI, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the vault client.
//
// Fields:
//   - StorageDriver: record store backend, "sqlite" or "postgres".
//   - DatabaseDSN: SQLite path/DSN or PostgreSQL DSN (pgx) depending on driver.
//   - AutoLockAfter: idle interval after which an unlocked session is locked.
//   - S3AccessKey / S3SecretKey: credentials for the S3-compatible blob backend.
//   - S3Bucket / S3Region / S3BaseEndpoint: object storage settings. An empty
//     endpoint disables blob staging and keeps all document bodies inline.
type Config struct {
	StorageDriver  string
	DatabaseDSN    string
	AutoLockAfter  time.Duration
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.StorageDriver = "sqlite"
	c.DatabaseDSN = "vaultguard.db"
	c.AutoLockAfter = 5 * time.Minute
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3Bucket = "vault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
