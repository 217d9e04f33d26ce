package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the CA core's runtime settings: the default issuer label
// legacy callers still pass through, storage, and CRL-generation policy
// (spec.md §4.8's thisUpdate/nextUpdate/keep parameters, which the CLI and
// REST surfaces leave to server defaults when unspecified).
type Config struct {
	Issuer       string
	ValidityDays int
	Database     DatabaseConfig
	CRL          CRLConfig
}

type DatabaseConfig struct {
	DSN string // Data Source Name for PostgreSQL
}

// CRLConfig is the default schedule new full/delta CRLs are generated
// under when a caller does not override nextUpdate explicitly.
type CRLConfig struct {
	NextUpdateInterval time.Duration // e.g. 7 * 24h
	Keep               int           // full CRLs retained per CA; passed to CleanupCRLs
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{
		Issuer:       viper.GetString("ca.issuer"),
		ValidityDays: viper.GetInt("ca.validity_days"),
		Database: DatabaseConfig{
			DSN: viper.GetString("ca.database.dsn"),
		},
		CRL: CRLConfig{
			NextUpdateInterval: viper.GetDuration("ca.crl.next_update_interval"),
			Keep:               viper.GetInt("ca.crl.keep"),
		},
	}
	if cfg.CRL.NextUpdateInterval == 0 {
		cfg.CRL.NextUpdateInterval = 7 * 24 * time.Hour
	}
	if cfg.CRL.Keep == 0 {
		cfg.CRL.Keep = 5
	}
	return cfg, nil
}
