package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/store/dialect"
	"github.com/DBatOWL/xipki/internal/errs"
	"github.com/DBatOWL/xipki/internal/lru"
)

// CertificateRepository implements the CERT-table contracts of spec.md
// §4.4: every operation fails with errs.KindDatabaseFailure on backend
// error, and absence maps to sql.ErrNoRows surfaced as a plain nil/false
// return rather than an error, per "absence maps to null ... not an
// error".
type CertificateRepository interface {
	AddCert(ctx context.Context, cert model.Certificate) error
	UpdateRevocation(ctx context.Context, caID int, serial *big.Int, rev model.RevocationInfo) (model.Certificate, error)
	RemoveCert(ctx context.Context, caID int, serial *big.Int) error
	GetCertForID(ctx context.Context, id int64) (model.Certificate, bool, error)
	GetCertWithRevInfo(ctx context.Context, caID int, serial *big.Int) (model.Certificate, bool, error)
	GetCertInfo(ctx context.Context, caID int, serial *big.Int) (model.Certificate, bool, error)
	GetSerialNumbers(ctx context.Context, caID int, fromID int64, limit int, onlyRevoked bool, notExpiredAt *time.Time, onlyCA, onlyEE bool) ([]*big.Int, error)
	GetExpiredSerialNumbers(ctx context.Context, caID int, expiredAt time.Time, limit int) ([]*big.Int, error)
	GetSuspendedCertSerials(ctx context.Context, caID int, latestUpdate time.Time, limit int) ([]*big.Int, error)
	GetRevokedCerts(ctx context.Context, caID int, notExpiredAt time.Time, fromID int64, limit int) ([]model.RevokedCertificate, error)
	GetRevokedCertsSince(ctx context.Context, caID int, sinceLastUpdate, notExpiredAt time.Time, fromID int64, limit int) ([]model.RevokedCertificate, error)
	IsCurrentlyRevoked(ctx context.Context, caID int, serial *big.Int) (bool, error)
	GetLatestSerialForSubjectLike(ctx context.Context, caID int, namePattern string) (*big.Int, bool, error)
}

type certificateRepository struct {
	db      *sql.DB
	dialect dialect.Dialect
	sqlLRU  *lru.Cache // GetSerialNumbers SQL text cached per page size
}

func (r *certificateRepository) AddCert(ctx context.Context, cert model.Certificate) error {
	var requestedFP sql.NullInt64
	if cert.RequestedSubjectFP != nil {
		requestedFP = sql.NullInt64{Int64: int64(*cert.RequestedSubjectFP), Valid: true}
	}
	var userID sql.NullInt64
	if cert.UserID != nil {
		userID = sql.NullInt64{Int64: int64(*cert.UserID), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cert (id, lupdate, sn, subject, fp_s, fp_rs, nbefore, nafter, rev,
			pid, ca_id, rid, uid, ee, rtype, tid, sha1, cert, crl_scope)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false,
			$9, $10, $11, $12, $13, $14, $15, $16, $17, 0)
	`,
		cert.ID, time.Now().Unix(), cert.Serial.Text(16), truncateSubject(cert.Subject),
		int64(cert.SubjectFingerprint), requestedFP,
		cert.NotBefore.Unix(), cert.NotAfter.Unix(),
		cert.ProfileID, cert.CAID, cert.RequestorID, userID, cert.EndEntity,
		string(cert.RequestType), nullableString(cert.TransactionID),
		fmt.Sprintf("%x", cert.SHA1Fingerprint), cert.DER,
	)
	if err != nil {
		return r.dialect.Translate("ca.AddCert", err)
	}
	return nil
}

// UpdateRevocation unconditionally sets the revocation fields on the row
// identified by (ca, serial) and returns the updated certificate. The
// caller (ca/revocation) is responsible for having already validated the
// requested transition; a rows-affected count other than 1 is reported
// as errs.KindSystemFailure per spec.md §4.6.
func (r *certificateRepository) UpdateRevocation(ctx context.Context, caID int, serial *big.Int, rev model.RevocationInfo) (model.Certificate, error) {
	var invalidity sql.NullInt64
	if rev.InvalidityTime != nil {
		invalidity = sql.NullInt64{Int64: rev.InvalidityTime.Unix(), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE cert SET rev = $1, rt = $2, rit = $3, rr = $4, lupdate = $5
		WHERE ca_id = $6 AND sn = $7
	`, rev.Revoked, rev.Time.Unix(), invalidity, string(rev.Reason), time.Now().Unix(),
		caID, serial.Text(16))
	if err != nil {
		return model.Certificate{}, r.dialect.Translate("ca.UpdateRevocation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return model.Certificate{}, r.dialect.Translate("ca.UpdateRevocation", err)
	}
	if n != 1 {
		return model.Certificate{}, errs.New(errs.KindSystemFailure, "ca.UpdateRevocation",
			fmt.Errorf("expected 1 row updated, got %d", n))
	}

	cert, found, err := r.GetCertWithRevInfo(ctx, caID, serial)
	if err != nil {
		return model.Certificate{}, err
	}
	if !found {
		return model.Certificate{}, errs.New(errs.KindSystemFailure, "ca.UpdateRevocation", fmt.Errorf("row vanished after update"))
	}
	return cert, nil
}

func (r *certificateRepository) RemoveCert(ctx context.Context, caID int, serial *big.Int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return r.dialect.Translate("ca.RemoveCert", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cert WHERE ca_id = $1 AND sn = $2`,
		caID, serial.Text(16)).Scan(&n); err != nil {
		return r.dialect.Translate("ca.RemoveCert", err)
	}
	if n > 1 {
		return errs.New(errs.KindSystemFailure, "ca.RemoveCert", fmt.Errorf("more than one row matched (ca=%d, sn=%s)", caID, serial.Text(16)))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cert WHERE ca_id = $1 AND sn = $2`, caID, serial.Text(16)); err != nil {
		return r.dialect.Translate("ca.RemoveCert", err)
	}
	return r.dialect.Translate("ca.RemoveCert", tx.Commit())
}

func (r *certificateRepository) GetCertForID(ctx context.Context, id int64) (model.Certificate, bool, error) {
	return r.scanOneCert(ctx, `
		SELECT id, ca_id, sn, subject, fp_s, fp_rs, nbefore, nafter, ee, pid, rid, uid,
			rtype, tid, cert, sha1, rev, rt, rit, rr, lupdate
		FROM cert WHERE id = $1
	`, id)
}

func (r *certificateRepository) GetCertWithRevInfo(ctx context.Context, caID int, serial *big.Int) (model.Certificate, bool, error) {
	return r.scanOneCert(ctx, `
		SELECT id, ca_id, sn, subject, fp_s, fp_rs, nbefore, nafter, ee, pid, rid, uid,
			rtype, tid, cert, sha1, rev, rt, rit, rr, lupdate
		FROM cert WHERE ca_id = $1 AND sn = $2
	`, caID, serial.Text(16))
}

func (r *certificateRepository) GetCertInfo(ctx context.Context, caID int, serial *big.Int) (model.Certificate, bool, error) {
	return r.GetCertWithRevInfo(ctx, caID, serial)
}

func (r *certificateRepository) scanOneCert(ctx context.Context, query string, args ...any) (model.Certificate, bool, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	cert, err := scanCertRow(row)
	if err == sql.ErrNoRows {
		return model.Certificate{}, false, nil
	}
	if err != nil {
		return model.Certificate{}, false, r.dialect.Translate("ca.GetCert", err)
	}
	return cert, true, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertRow(row rowScanner) (model.Certificate, error) {
	var c model.Certificate
	var snHex, subject, txID, reason, sha1Hex string
	var fpRS, uid, invalidity, revTime sql.NullInt64
	var nbefore, nafter, lupdate int64
	var revoked bool

	err := row.Scan(&c.ID, &c.CAID, &snHex, &subject, &c.SubjectFingerprint, &fpRS,
		&nbefore, &nafter, &c.EndEntity, &c.ProfileID, &c.RequestorID, &uid,
		&c.RequestType, &txID, &c.DER, &sha1Hex, &revoked, &revTime, &invalidity, &reason, &lupdate)
	if err != nil {
		return model.Certificate{}, err
	}
	if decoded, err := hex.DecodeString(sha1Hex); err == nil && len(decoded) == 20 {
		copy(c.SHA1Fingerprint[:], decoded)
	}

	serial := new(big.Int)
	serial.SetString(snHex, 16)
	c.Serial = serial
	c.Subject = subject
	c.NotBefore = time.Unix(nbefore, 0).UTC()
	c.NotAfter = time.Unix(nafter, 0).UTC()
	c.LastUpdate = time.Unix(lupdate, 0).UTC()
	c.TransactionID = txID
	if fpRS.Valid {
		v := uint64(fpRS.Int64)
		c.RequestedSubjectFP = &v
	}
	if uid.Valid {
		v := int(uid.Int64)
		c.UserID = &v
	}
	c.Revocation.Revoked = revoked
	if revoked {
		c.Revocation.Time = time.Unix(revTime.Int64, 0).UTC()
		c.Revocation.Reason = model.RevocationReason(reason)
		if invalidity.Valid {
			t := time.Unix(invalidity.Int64, 0).UTC()
			c.Revocation.InvalidityTime = &t
		}
	}
	return c, nil
}

func (r *certificateRepository) GetSerialNumbers(ctx context.Context, caID int, fromID int64, limit int, onlyRevoked bool, notExpiredAt *time.Time, onlyCA, onlyEE bool) ([]*big.Int, error) {
	coreSQL := "SELECT sn FROM cert WHERE ca_id = $1 AND id > $2"
	args := []any{caID, fromID}
	n := 3
	if onlyRevoked {
		coreSQL += " AND rev = true"
	}
	if notExpiredAt != nil {
		coreSQL += fmt.Sprintf(" AND nafter > $%d", n)
		args = append(args, notExpiredAt.Unix())
		n++
	}
	if onlyCA {
		coreSQL += " AND ee = false"
	} else if onlyEE {
		coreSQL += " AND ee = true"
	}

	query := r.sqlLRU.GetOrBuild(limit, func() string {
		return r.dialect.BuildSelectFirstSQL(limit, "id ASC", coreSQL)
	})
	return r.querySerials(ctx, query, args...)
}

func (r *certificateRepository) GetExpiredSerialNumbers(ctx context.Context, caID int, expiredAt time.Time, limit int) ([]*big.Int, error) {
	query := r.dialect.BuildSelectFirstSQL(limit, "id ASC",
		"SELECT sn FROM cert WHERE ca_id = $1 AND nafter <= $2")
	return r.querySerials(ctx, query, caID, expiredAt.Unix())
}

func (r *certificateRepository) GetSuspendedCertSerials(ctx context.Context, caID int, latestUpdate time.Time, limit int) ([]*big.Int, error) {
	query := r.dialect.BuildSelectFirstSQL(limit, "id ASC",
		"SELECT sn FROM cert WHERE ca_id = $1 AND rev = true AND rr = 'certificateHold' AND lupdate >= $2")
	return r.querySerials(ctx, query, caID, latestUpdate.Unix())
}

func (r *certificateRepository) querySerials(ctx context.Context, query string, args ...any) ([]*big.Int, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.dialect.Translate("ca.querySerials", err)
	}
	defer rows.Close()

	var out []*big.Int
	for rows.Next() {
		var snHex string
		if err := rows.Scan(&snHex); err != nil {
			return nil, r.dialect.Translate("ca.querySerials", err)
		}
		sn := new(big.Int)
		sn.SetString(snHex, 16)
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (r *certificateRepository) GetRevokedCerts(ctx context.Context, caID int, notExpiredAt time.Time, fromID int64, limit int) ([]model.RevokedCertificate, error) {
	query := r.dialect.BuildSelectFirstSQL(limit, "id ASC", `
		SELECT id, sn, rt, rit, rr, nafter, ee
		FROM cert WHERE ca_id = $1 AND rev = true AND nafter > $2 AND id > $3
	`)
	rows, err := r.db.QueryContext(ctx, query, caID, notExpiredAt.Unix(), fromID)
	if err != nil {
		return nil, r.dialect.Translate("ca.GetRevokedCerts", err)
	}
	defer rows.Close()

	var out []model.RevokedCertificate
	for rows.Next() {
		var rc model.RevokedCertificate
		var snHex, reason string
		var revTime, nafter int64
		var invalidity sql.NullInt64
		if err := rows.Scan(&rc.ID, &snHex, &revTime, &invalidity, &reason, &nafter, &rc.IsCA); err != nil {
			return nil, r.dialect.Translate("ca.GetRevokedCerts", err)
		}
		sn := new(big.Int)
		sn.SetString(snHex, 16)
		rc.Serial = sn
		rc.RevocationDate = time.Unix(revTime, 0).UTC()
		rc.Reason = model.RevocationReason(reason)
		rc.NotAfter = time.Unix(nafter, 0).UTC()
		if invalidity.Valid {
			t := time.Unix(invalidity.Int64, 0).UTC()
			rc.InvalidityDate = &t
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// GetRevokedCertsSince supports delta-CRL generation (spec.md §4.8 step
// 3): certificates revoked since a base CRL's thisUpdate that are still
// unexpired at the new thisUpdate.
func (r *certificateRepository) GetRevokedCertsSince(ctx context.Context, caID int, sinceLastUpdate, notExpiredAt time.Time, fromID int64, limit int) ([]model.RevokedCertificate, error) {
	query := r.dialect.BuildSelectFirstSQL(limit, "id ASC", `
		SELECT id, sn, rt, rit, rr, nafter, ee
		FROM cert WHERE ca_id = $1 AND rev = true AND lupdate >= $2 AND nafter > $3 AND id > $4
	`)
	rows, err := r.db.QueryContext(ctx, query, caID, sinceLastUpdate.Unix(), notExpiredAt.Unix(), fromID)
	if err != nil {
		return nil, r.dialect.Translate("ca.GetRevokedCertsSince", err)
	}
	defer rows.Close()

	var out []model.RevokedCertificate
	for rows.Next() {
		var rc model.RevokedCertificate
		var snHex, reason string
		var revTime, nafter int64
		var invalidity sql.NullInt64
		if err := rows.Scan(&rc.ID, &snHex, &revTime, &invalidity, &reason, &nafter, &rc.IsCA); err != nil {
			return nil, r.dialect.Translate("ca.GetRevokedCertsSince", err)
		}
		sn := new(big.Int)
		sn.SetString(snHex, 16)
		rc.Serial = sn
		rc.RevocationDate = time.Unix(revTime, 0).UTC()
		rc.Reason = model.RevocationReason(reason)
		rc.NotAfter = time.Unix(nafter, 0).UTC()
		if invalidity.Valid {
			t := time.Unix(invalidity.Int64, 0).UTC()
			rc.InvalidityDate = &t
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *certificateRepository) IsCurrentlyRevoked(ctx context.Context, caID int, serial *big.Int) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx, `SELECT rev FROM cert WHERE ca_id = $1 AND sn = $2`, caID, serial.Text(16)).Scan(&revoked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, r.dialect.Translate("ca.IsCurrentlyRevoked", err)
	}
	return revoked, nil
}

func (r *certificateRepository) GetLatestSerialForSubjectLike(ctx context.Context, caID int, namePattern string) (*big.Int, bool, error) {
	var snHex string
	err := r.db.QueryRowContext(ctx, `
		SELECT sn FROM cert WHERE ca_id = $1 AND subject LIKE $2
		ORDER BY nbefore DESC LIMIT 1
	`, caID, namePattern).Scan(&snHex)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.dialect.Translate("ca.GetLatestSerialForSubjectLike", err)
	}
	sn := new(big.Int)
	sn.SetString(snHex, 16)
	return sn, true, nil
}

func truncateSubject(subject string) string {
	const x500NameMaxLen = 350
	if len(subject) > x500NameMaxLen {
		return subject[:x500NameMaxLen]
	}
	return subject
}

func nullableString(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
