// Package config loads the OCSP responder's runtime settings the way
// ca/config loads the CA core's: a flat struct populated by
// github.com/spf13/viper, with defaults filled in for anything the
// operator's config.yaml leaves unset.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/DBatOWL/xipki/ocsp/responder"
)

// Config mirrors ocsp/responder.Config's fields plus the transport and
// issuer-filter settings the responder package itself has no opinion on.
type Config struct {
	ListenAddr                string
	MaxRequestSize            int
	MaxRequestListCount       int
	SupportsHTTPGet           bool
	SignatureRequired         bool
	NonIssuedGood             bool
	UnauthorizedUnknownIssuer bool
	NonceMinLen               int
	NonceMaxLen               int
	ResponderMaxCacheAge      time.Duration
	SignerPoolSize            int
	BorrowDeadline            time.Duration

	// IssuerFilter is the base64 SHA-1 fingerprint allowlist/denylist
	// (spec.md §4.10); either list may be empty.
	IssuerFilterInclude []string
	IssuerFilterExclude []string

	// RateLimit throttles per-client-IP request volume on the OCSP mux.
	RateLimitEnabled           bool
	RateLimitRequestsPerSecond float64
	RateLimitBurst             int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{
		ListenAddr:                viper.GetString("ocsp.listen_addr"),
		MaxRequestSize:            viper.GetInt("ocsp.max_request_size"),
		MaxRequestListCount:       viper.GetInt("ocsp.max_request_list_count"),
		SupportsHTTPGet:           viper.GetBool("ocsp.supports_http_get"),
		SignatureRequired:         viper.GetBool("ocsp.signature_required"),
		NonIssuedGood:             viper.GetBool("ocsp.non_issued_good"),
		UnauthorizedUnknownIssuer: viper.GetBool("ocsp.unauthorized_unknown_issuer"),
		NonceMinLen:               viper.GetInt("ocsp.nonce_min_len"),
		NonceMaxLen:               viper.GetInt("ocsp.nonce_max_len"),
		ResponderMaxCacheAge:      viper.GetDuration("ocsp.responder_max_cache_age"),
		SignerPoolSize:            viper.GetInt("ocsp.signer_pool_size"),
		BorrowDeadline:            viper.GetDuration("ocsp.borrow_deadline"),
		IssuerFilterInclude:       viper.GetStringSlice("ocsp.issuer_filter.include"),
		IssuerFilterExclude:       viper.GetStringSlice("ocsp.issuer_filter.exclude"),

		RateLimitEnabled:           viper.GetBool("ocsp.rate_limit.enabled"),
		RateLimitRequestsPerSecond: viper.GetFloat64("ocsp.rate_limit.requests_per_second"),
		RateLimitBurst:             viper.GetInt("ocsp.rate_limit.burst"),
	}
	applyDefaults(cfg)
	return cfg, nil
}

// ResponderConfig projects the fields ocsp/responder.Config needs out of
// the larger deployment Config.
func (cfg *Config) ResponderConfig() responder.Config {
	return responder.Config{
		MaxRequestSize:            cfg.MaxRequestSize,
		MaxRequestListCount:       cfg.MaxRequestListCount,
		SupportsHTTPGet:           cfg.SupportsHTTPGet,
		SignatureRequired:         cfg.SignatureRequired,
		NonIssuedGood:             cfg.NonIssuedGood,
		UnauthorizedUnknownIssuer: cfg.UnauthorizedUnknownIssuer,
		NonceMinLen:               cfg.NonceMinLen,
		NonceMaxLen:               cfg.NonceMaxLen,
		ResponderMaxCacheAge:      cfg.ResponderMaxCacheAge,
		SignerPoolSize:            cfg.SignerPoolSize,
		BorrowDeadline:            cfg.BorrowDeadline,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8081"
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = 10 * 1024
	}
	if cfg.MaxRequestListCount == 0 {
		cfg.MaxRequestListCount = 100
	}
	if cfg.NonceMinLen == 0 {
		cfg.NonceMinLen = 1
	}
	if cfg.NonceMaxLen == 0 {
		cfg.NonceMaxLen = 32 // RFC 8954
	}
	if cfg.ResponderMaxCacheAge == 0 {
		cfg.ResponderMaxCacheAge = 5 * time.Minute
	}
	if cfg.SignerPoolSize == 0 {
		cfg.SignerPoolSize = 2
	}
	if cfg.BorrowDeadline == 0 {
		cfg.BorrowDeadline = 5 * time.Second
	}
	if cfg.RateLimitRequestsPerSecond == 0 {
		cfg.RateLimitRequestsPerSecond = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}
}
