// Package config loads the key-management PKCS#11 driver's runtime
// settings the way ocsp/config and ca/config load theirs: a flat struct
// populated by github.com/spf13/viper.
package config

import (
	"github.com/spf13/viper"
)

// Config points the driver at a PKCS#11 module and the token slot/PIN to
// open a session against.
type Config struct {
	SoftHSMModule string // path to the PKCS#11 module, e.g. libsofthsm2.so
	SoftHSMSlot   string // token slot ID
	SoftHSMPin    string // user PIN
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}
	return &Config{
		SoftHSMModule: viper.GetString("keymanagement.softhsm.module"),
		SoftHSMSlot:   viper.GetString("keymanagement.softhsm.slot"),
		SoftHSMPin:    viper.GetString("keymanagement.softhsm.pin"),
	}, nil
}
