package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DBatOWL/xipki/ca/model"
)

// TokenRepository tracks the PKCS#11-style token handles (SIGNER-table
// rows) a key can be provisioned on.
type TokenRepository interface {
	SaveToken(ctx context.Context, token model.CryptoToken) (int, error)
	FindTokenByID(ctx context.Context, id int) (model.CryptoToken, error)
}

type tokenRepository struct {
	db *sql.DB
}

func (r *tokenRepository) SaveToken(ctx context.Context, token model.CryptoToken) (int, error) {
	var id int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO crypto_token (name, backend, slot_id, pin_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, token.Name, token.Backend, token.SlotID, token.PinRef).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("SaveToken: %w", err)
	}
	return id, nil
}

func (r *tokenRepository) FindTokenByID(ctx context.Context, id int) (model.CryptoToken, error) {
	var t model.CryptoToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, backend, slot_id, pin_ref FROM crypto_token WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Backend, &t.SlotID, &t.PinRef)
	if err != nil {
		return model.CryptoToken{}, fmt.Errorf("FindTokenByID: %w", err)
	}
	return t, nil
}
