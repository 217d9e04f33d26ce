// Package metrics provides Prometheus instrumentation for the CA core
// and OCSP responder, exposing operation counters, latency histograms,
// and per-CA certificate/CRL counters for operational monitoring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "xipki"

const (
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelMethod    = "method"
	LabelCA        = "ca"

	OpCreateCA         = "create_ca"
	OpIssueCertificate = "issue_certificate"
	OpRevokeCA         = "revoke_ca"
	OpRevokeCert       = "revoke_certificate"
	OpUnsuspendCert    = "unsuspend_certificate"
	OpGenerateCRL      = "generate_crl"

	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// CAOperationsTotal tracks CA management operations by type and outcome.
	CAOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ca_operations_total",
			Help:      "Total number of CA management operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// CAOperationDuration tracks the latency of CA management operations.
	CAOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ca_operation_duration_seconds",
			Help:      "Duration of CA management operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelOperation},
	)

	// CertificatesIssuedTotal tracks certificates issued per CA.
	CertificatesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "certificates_issued_total",
			Help:      "Total number of certificates issued per CA",
		},
		[]string{LabelCA},
	)

	// CertificatesRevokedTotal tracks certificates revoked per CA.
	CertificatesRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "certificates_revoked_total",
			Help:      "Total number of certificates revoked per CA",
		},
		[]string{LabelCA},
	)

	// CRLsGeneratedTotal tracks CRLs generated per CA.
	CRLsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "crls_generated_total",
			Help:      "Total number of CRLs generated per CA",
		},
		[]string{LabelCA},
	)

	// OCSPResponsesTotal tracks OCSP responses by RFC 6960 response status
	// (successful/malformedRequest/internalError/tryLater/sigRequired/unauthorized).
	// The per-certificate status inside a successful response is not recorded.
	OCSPResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ocsp_responses_total",
			Help:      "Total number of OCSP responses by response status",
		},
		[]string{LabelStatus},
	)

	// OCSPRequestDuration tracks OCSP request handling latency.
	OCSPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ocsp_request_duration_seconds",
			Help:      "Duration of OCSP request handling in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// HTTPRequestsTotal tracks HTTP requests served by the REST surface.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatus},
	)
)

// RecordCAOperation records a CA management operation's outcome and
// duration in one call, the way the CA service's public methods wrap
// their repository/issuance calls.
func RecordCAOperation(operation string, err error, durationSeconds float64) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	CAOperationsTotal.WithLabelValues(operation, status).Inc()
	CAOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordOCSPResponse records an OCSP response by its RFC 6960 response
// status string (e.g. "successful", "unauthorized", "tryLater").
func RecordOCSPResponse(responseStatus string) {
	OCSPResponsesTotal.WithLabelValues(responseStatus).Inc()
}
