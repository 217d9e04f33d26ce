package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DBatOWL/xipki/ca/model"
)

// KeyRepository tracks KEYPAIR_GEN-style rows: which label maps to which
// token and CA. It never touches private-key material; that lives behind
// keymanagement's PKCS#11 repository.
type KeyRepository interface {
	SaveKey(ctx context.Context, key model.CryptoKey) (int, error)
	FindKeyByLabelAndTokenID(ctx context.Context, label string, tokenID int) (model.CryptoKey, error)
}

type keyRepository struct {
	db *sql.DB
}

func (r *keyRepository) SaveKey(ctx context.Context, key model.CryptoKey) (int, error) {
	var id int
	var caID sql.NullInt64
	if key.CaID != nil {
		caID = sql.NullInt64{Int64: int64(*key.CaID), Valid: true}
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO crypto_key (label, usage, token_id, ca_id, public_key, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, key.Label, key.Usage, key.TokenID, caID, key.PublicKey, key.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("SaveKey: %w", err)
	}
	return id, nil
}

func (r *keyRepository) FindKeyByLabelAndTokenID(ctx context.Context, label string, tokenID int) (model.CryptoKey, error) {
	var k model.CryptoKey
	var caID sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, label, usage, token_id, ca_id, public_key, status
		FROM crypto_key WHERE label = $1 AND token_id = $2
	`, label, fmt.Sprintf("%d", tokenID)).Scan(&k.ID, &k.Label, &k.Usage, &k.TokenID, &caID, &k.PublicKey, &k.Status)
	if err != nil {
		return model.CryptoKey{}, fmt.Errorf("FindKeyByLabelAndTokenID: %w", err)
	}
	if caID.Valid {
		v := int(caID.Int64)
		k.CaID = &v
	}
	return k, nil
}
