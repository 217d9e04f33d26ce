package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DBatOWL/xipki/ca/model"
)

type KeyUsageRepository interface {
	// AddUsage adds a usage type to a key.
	AddUsage(ctx context.Context, keyID int, usage model.KeyUsage) error
	// RemoveUsage removes a usage type from a key.
	RemoveUsage(ctx context.Context, keyID int, usage model.KeyUsage) error
	// GetUsages retrieves all usage types for a key.
	GetUsages(ctx context.Context, keyID int) ([]model.KeyUsage, error)
}

type keyUsageRepository struct {
	db *sql.DB
}

func NewKeyUsageRepository(db *sql.DB) (KeyUsageRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("NewKeyUsageRepository: database connection is nil")
	}

	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS key_usages (
		key_id INTEGER NOT NULL,
		usage VARCHAR NOT NULL CHECK (usage IN ('certSign', 'crlSign', 'ocspSign', 'encrypt', 'sign')),
		PRIMARY KEY (key_id, usage),
		CONSTRAINT fk_key_id FOREIGN KEY (key_id) REFERENCES crypto_keys(id)
	);
	`)
	if err != nil {
		return nil, err
	}

	return &keyUsageRepository{db: db}, nil
}

func (r *keyUsageRepository) AddUsage(ctx context.Context, keyID int, usage model.KeyUsage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO key_usages (key_id, usage) VALUES ($1, $2)
		ON CONFLICT (key_id, usage) DO NOTHING
	`, keyID, string(usage))
	if err != nil {
		return fmt.Errorf("AddUsage: %w", err)
	}
	return nil
}

func (r *keyUsageRepository) RemoveUsage(ctx context.Context, keyID int, usage model.KeyUsage) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM key_usages WHERE key_id = $1 AND usage = $2
	`, keyID, string(usage))
	if err != nil {
		return fmt.Errorf("RemoveUsage: %w", err)
	}
	return nil
}

func (r *keyUsageRepository) GetUsages(ctx context.Context, keyID int) ([]model.KeyUsage, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT usage FROM key_usages WHERE key_id = $1`, keyID)
	if err != nil {
		return nil, fmt.Errorf("GetUsages: %w", err)
	}
	defer rows.Close()

	var usages []model.KeyUsage
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("GetUsages: %w", err)
		}
		usages = append(usages, model.KeyUsage(u))
	}
	return usages, rows.Err()
}
