// Package logging configures the process-wide zerolog logger used by
// every other package through the bare github.com/rs/zerolog/log
// global, and provides a chi-compatible request logging middleware.
package logging

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global log level and output format. format is either
// "json" (one log line per event, for shipping to a collector) or
// anything else for a human-readable console writer.
func Init(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var output zerolog.ConsoleWriter = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}
	if strings.ToLower(format) == "json" {
		log.Logger = log.Output(os.Stdout).Level(lvl)
		return
	}
	log.Logger = log.Output(output).Level(lvl)
}

// RequestLogger is a chi middleware that logs one structured line per
// HTTP request: method, path, status, and latency, mirroring the shape
// of the CA and OCSP audit log entries emitted deeper in the stack
// (ca/issuance, ca/crl, ocsp/responder).
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event := log.Info()
		if ww.Status() >= 500 {
			event = log.Error()
		} else if ww.Status() >= 400 {
			event = log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}
