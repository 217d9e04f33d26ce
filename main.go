package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/DBatOWL/xipki/ca/crl"
	"github.com/DBatOWL/xipki/ca/issuance"
	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/profile"
	ca_repository "github.com/DBatOWL/xipki/ca/repository"
	ca_service "github.com/DBatOWL/xipki/ca/service"
	"github.com/DBatOWL/xipki/ca/store/dialect"
	"github.com/DBatOWL/xipki/config"
	"github.com/DBatOWL/xipki/internal/idgen"
	"github.com/DBatOWL/xipki/internal/logging"
	"github.com/DBatOWL/xipki/internal/ratelimit"
	"github.com/DBatOWL/xipki/keymanagement/repository"
	"github.com/DBatOWL/xipki/keymanagement/service"
	"github.com/DBatOWL/xipki/ocsp/issueridentity"
	"github.com/DBatOWL/xipki/ocsp/issuerfilter"
	"github.com/DBatOWL/xipki/ocsp/responder"
)

// sqlLRUSize bounds how many distinct page sizes the certificate
// repository caches generated SQL text for (ca/repository.NewRepository).
const sqlLRUSize = 16

type App struct {
	keyService  service.KeyManagementService
	caService   ca_service.CaService
	responder   *responder.Responder
	ocspLimiter *ratelimit.Limiter
	db          *sql.DB
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	db, err := sql.Open("pgx", cfg.CA.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}

	keyRepo, err := repository.NewSoftHsmKeyPairRepository(
		cfg.KeyManagement.SoftHSMModule, cfg.KeyManagement.SoftHSMSlot, cfg.KeyManagement.SoftHSMPin)
	if err != nil {
		log.Fatal().Err(err).Msg("open SoftHSM key repository")
	}
	defer keyRepo.Finalize()

	caRepo, err := ca_repository.NewRepository(db, dialect.Postgres{}, sqlLRUSize)
	if err != nil {
		log.Fatal().Err(err).Msg("build CA repository")
	}

	keyService := service.NewKeyManagementService(keyRepo)

	ids, err := idgen.New(0, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("build id generator")
	}

	pipeline := issuance.NewPipeline(caRepo, keyService, ids, nil)
	crlGen := crl.NewGenerator(caRepo, keyService, ids)
	// Profiles are admin-managed configuration (DESIGN.md's ca/profile
	// entry); an empty store means issuance requests fail closed with
	// "unknown profile" until profiles are provisioned through a
	// forthcoming admin surface.
	profiles := profile.NewStore()
	caService := ca_service.NewCaService(caRepo, pipeline, crlGen, profiles, cfg.CA)

	ocspResponder, err := buildResponder(context.Background(), cfg, caRepo, keyService)
	if err != nil {
		log.Fatal().Err(err).Msg("build OCSP responder")
	}

	ocspLimiter := ratelimit.New(ratelimit.Config{
		Enabled:           cfg.OCSP.RateLimitEnabled,
		RequestsPerSecond: cfg.OCSP.RateLimitRequestsPerSecond,
		Burst:             cfg.OCSP.RateLimitBurst,
	})

	app := &App{keyService: keyService, caService: caService, responder: ocspResponder, ocspLimiter: ocspLimiter, db: db}

	srv := &http.Server{Addr: cfg.OCSP.ListenAddr, Handler: app.routes()}
	go func() {
		log.Info().Str("addr", cfg.OCSP.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// buildResponder loads every known CA's issuer identity into the
// responder's lookup table (ocsp/issueridentity), per spec.md §3's
// "built when the CA is loaded".
func buildResponder(ctx context.Context, cfg *config.AppConfig, caRepo ca_repository.Repository, keySvc service.KeyManagementService) (*responder.Responder, error) {
	cas, err := caRepo.GetAllCAs(ctx)
	if err != nil {
		return nil, err
	}
	table := issueridentity.NewTable()
	for _, ca := range cas {
		entry, err := issueridentity.Build(ca)
		if err != nil {
			log.Error().Err(err).Int("ca_id", ca.ID).Msg("skip CA: could not build issuer identity")
			continue
		}
		table.Put(entry)
	}
	filter := issuerfilter.New(cfg.OCSP.IssuerFilterInclude, cfg.OCSP.IssuerFilterExclude)
	return responder.New(cfg.OCSP.ResponderConfig(), table, filter, caRepo, keySvc), nil
}

func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.RequestLogger)

	r.Post("/keymanagement/generate", app.handleGenerateKey)
	r.Get("/keymanagement/{id}", app.handleGetKey)

	r.Get("/ca", app.handleListCAs)
	r.Post("/ca/{caID}/issue", app.handleIssueCertificate)
	r.Post("/ca/{caID}/revoke", app.handleRevokeCertificate)
	r.Post("/ca/{caID}/unsuspend", app.handleUnsuspendCertificate)
	r.Get("/ca/{caID}/crl", app.handleGetLatestCRL)
	r.Post("/ca/{caID}/crl", app.handleGenerateCRL)

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(app.ocspLimiter))
		r.Post("/ocsp", app.handleOCSP)
		r.Get("/ocsp", app.handleOCSP) // GET form carries the request base64url-encoded in the path, per RFC 6960 appx. A; unsupported for now -- see DESIGN.md.
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (app *App) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	keyPair, err := app.keyService.GenerateKeyPair(req.ID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": keyPair.ID})
}

func (app *App) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	keyPair, err := app.keyService.GetKeyPair(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": keyPair.ID})
}

func (app *App) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	caID, err := strconv.Atoi(chi.URLParam(r, "caID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	var req issueCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	cert, err := app.caService.IssueCertificate(r.Context(), caID, req.Profile, req.CSRPEM, issuance.Request{RequestType: model.RequestTypeREST})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"serialNumber": cert.Serial.Text(16),
		"subject":      cert.Subject,
		"notBefore":    cert.NotBefore,
		"notAfter":     cert.NotAfter,
	})
}

func (app *App) handleRevokeCertificate(w http.ResponseWriter, r *http.Request) {
	caID, err := strconv.Atoi(chi.URLParam(r, "caID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	var req revokeCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	serial, ok := new(big.Int).SetString(req.SerialHex, 16)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, errors.New("invalid serial number"))
		return
	}

	cert, err := app.caService.RevokeCertificate(r.Context(), caID, serial, model.RevocationReason(req.Reason))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serialNumber": cert.Serial.Text(16), "revoked": cert.Revocation.Revoked})
}

func (app *App) handleListCAs(w http.ResponseWriter, r *http.Request) {
	cas, err := app.caService.GetAllCAs(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	type caSummary struct {
		ID      int    `json:"id"`
		Name    string `json:"name"`
		Subject string `json:"subject"`
		CertPEM string `json:"certPem"`
	}
	summaries := make([]caSummary, 0, len(cas))
	for _, ca := range cas {
		summaries = append(summaries, caSummary{ID: ca.ID, Name: ca.Name, Subject: ca.Subject, CertPEM: ca.CertPEM})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (app *App) handleUnsuspendCertificate(w http.ResponseWriter, r *http.Request) {
	caID, err := strconv.Atoi(chi.URLParam(r, "caID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	var req unsuspendCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	serial, ok := new(big.Int).SetString(req.SerialHex, 16)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, errors.New("invalid serial number"))
		return
	}

	cert, err := app.caService.UnsuspendCertificate(r.Context(), caID, serial)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serialNumber": cert.Serial.Text(16), "revoked": cert.Revocation.Revoked})
}

func (app *App) handleGetLatestCRL(w http.ResponseWriter, r *http.Request) {
	caID, err := strconv.Atoi(chi.URLParam(r, "caID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	der, found, err := app.caService.GetLatestCRL(r.Context(), caID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, errors.New("no CRL generated yet"))
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	_, _ = w.Write(der)
}

func (app *App) handleGenerateCRL(w http.ResponseWriter, r *http.Request) {
	caID, err := strconv.Atoi(chi.URLParam(r, "caID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	row, err := app.caService.GenerateCRL(r.Context(), caID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	_, _ = w.Write(row.DER)
}

func (app *App) handleOCSP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	resp := app.responder.Handle(r.Context(), body)
	w.Header().Set("Content-Type", "application/ocsp-response")
	_, _ = w.Write(resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
