// Package config composes the CA core, key-management and OCSP
// responder's own config loaders into one top-level AppConfig, the way
// main.go wires every subsystem from a single config.yaml without each
// subsystem needing to know about the others' settings.
package config

import (
	"github.com/spf13/viper"

	caconfig "github.com/DBatOWL/xipki/ca/config"
	keyconfig "github.com/DBatOWL/xipki/keymanagement/config"
	ocspconfig "github.com/DBatOWL/xipki/ocsp/config"
)

// LoggingConfig controls internal/logging.Init; it has no subsystem of
// its own since every package logs through the same global writer.
type LoggingConfig struct {
	Level  string
	Format string
}

// AppConfig is the union of every subsystem's own Config, each loaded
// through its own package so the parsing rules for a given section live
// next to the code that consumes it.
type AppConfig struct {
	Logging       LoggingConfig
	CA            *caconfig.Config
	KeyManagement *keyconfig.Config
	OCSP          *ocspconfig.Config
}

// LoadConfig reads config.yaml once per subsystem loader and returns the
// combined result; a missing or malformed file fails on whichever
// subsystem reads it first.
func LoadConfig() (*AppConfig, error) {
	viper.SetConfigFile("config.yaml")
	_ = viper.ReadInConfig() // subsystem loaders below report a missing/malformed file

	logging := LoggingConfig{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}
	if logging.Level == "" {
		logging.Level = "info"
	}

	ca, err := caconfig.LoadConfig()
	if err != nil {
		return nil, err
	}
	key, err := keyconfig.LoadConfig()
	if err != nil {
		return nil, err
	}
	ocsp, err := ocspconfig.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &AppConfig{Logging: logging, CA: ca, KeyManagement: key, OCSP: ocsp}, nil
}
