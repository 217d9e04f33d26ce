package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/store/dialect"
	"github.com/DBatOWL/xipki/internal/errs"
)

// CRLRepository implements the CRL-table contracts of spec.md §4.4/§4.8.
type CRLRepository interface {
	AddCRL(ctx context.Context, crl model.CRL) error
	GetEncodedCRL(ctx context.Context, caID int, crlNumber *int64) ([]byte, bool, error)
	GetMaxCRLNumber(ctx context.Context, caID int, fullOnly bool) (int64, error)
	GetThisUpdateOfCurrentCRL(ctx context.Context, caID int, delta bool) (time.Time, bool, error)
	CleanupCRLs(ctx context.Context, caID int, keep int) error
}

type crlRepository struct {
	db      *sql.DB
	dialect dialect.Dialect
}

func (r *crlRepository) AddCRL(ctx context.Context, crl model.CRL) error {
	var nextUpdate sql.NullInt64
	if crl.NextUpdate != nil {
		nextUpdate = sql.NullInt64{Int64: crl.NextUpdate.Unix(), Valid: true}
	}
	var baseCRLNo sql.NullInt64
	if crl.BaseCRLNumber != nil {
		baseCRLNo = sql.NullInt64{Int64: *crl.BaseCRLNumber, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO crl (id, ca_id, crl_no, thisupdate, nextupdate, deltacrl, basecrl_no, crl_scope, crl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`, crl.ID, crl.CAID, crl.CRLNumber, crl.ThisUpdate.Unix(), nextUpdate, crl.Delta, baseCRLNo, crl.DER)
	if err != nil {
		return r.dialect.Translate("ca.AddCRL", err)
	}
	return nil
}

func (r *crlRepository) GetEncodedCRL(ctx context.Context, caID int, crlNumber *int64) ([]byte, bool, error) {
	var der []byte
	var err error
	if crlNumber != nil {
		err = r.db.QueryRowContext(ctx, `
			SELECT crl FROM crl WHERE ca_id = $1 AND crl_no = $2
		`, caID, *crlNumber).Scan(&der)
	} else {
		err = r.db.QueryRowContext(ctx, `
			SELECT crl FROM crl WHERE ca_id = $1 AND deltacrl = false
			ORDER BY crl_no DESC LIMIT 1
		`, caID).Scan(&der)
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.dialect.Translate("ca.GetEncodedCRL", err)
	}
	return der, true, nil
}

func (r *crlRepository) GetMaxCRLNumber(ctx context.Context, caID int, fullOnly bool) (int64, error) {
	query := `SELECT COALESCE(MAX(crl_no), 0) FROM crl WHERE ca_id = $1`
	if fullOnly {
		query += ` AND deltacrl = false`
	}
	var max int64
	if err := r.db.QueryRowContext(ctx, query, caID).Scan(&max); err != nil {
		return 0, r.dialect.Translate("ca.GetMaxCRLNumber", err)
	}
	return max, nil
}

func (r *crlRepository) GetThisUpdateOfCurrentCRL(ctx context.Context, caID int, delta bool) (time.Time, bool, error) {
	var thisUpdate int64
	err := r.db.QueryRowContext(ctx, `
		SELECT thisupdate FROM crl WHERE ca_id = $1 AND deltacrl = $2
		ORDER BY crl_no DESC LIMIT 1
	`, caID, delta).Scan(&thisUpdate)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, r.dialect.Translate("ca.GetThisUpdateOfCurrentCRL", err)
	}
	return time.Unix(thisUpdate, 0).UTC(), true, nil
}

// CleanupCRLs deletes full CRLs older than the keep-th newest, per
// spec.md §4.4. Open Question (a) in spec.md §9 leaves retention
// counting ambiguous between full-only and full+delta; this
// implementation counts full CRLs only -- see DESIGN.md.
func (r *crlRepository) CleanupCRLs(ctx context.Context, caID int, keep int) error {
	if keep < 0 {
		return errs.New(errs.KindBadRequest, "ca.CleanupCRLs", fmt.Errorf("keep must be >= 0, got %d", keep))
	}
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM crl
		WHERE ca_id = $1 AND deltacrl = false AND crl_no NOT IN (
			SELECT crl_no FROM crl WHERE ca_id = $1 AND deltacrl = false
			ORDER BY crl_no DESC LIMIT $2
		)
	`, caID, keep)
	if err != nil {
		return r.dialect.Translate("ca.CleanupCRLs", err)
	}
	return nil
}
