// Package repository is the certificate store of spec.md §4.4: CA,
// Certificate, CRL, and publish-queue persistence over PostgreSQL via
// database/sql + github.com/jackc/pgx/v5/stdlib, following the teacher's
// one-struct-per-concern layout combined into a single Repository.
package repository

import (
	"database/sql"
	"errors"

	"github.com/DBatOWL/xipki/ca/store/dialect"
	"github.com/DBatOWL/xipki/internal/lru"
)

type Repository interface {
	CertificateRepository
	CRLRepository
	PublishRepository
	TokenRepository
	KeyRepository
	KeyUsageRepository
	CARepository
}

type repository struct {
	*tokenRepository
	*keyRepository
	*keyUsageRepository
	*caRepository
	*certificateRepository
	*crlRepository
	*publishRepository
}

// NewRepository wires every concern onto db using d as the SQL dialect
// (ca/store/dialect.Postgres for this deployment). sqlLRUSize bounds the
// number of distinct page sizes cached for GetSerialNumbers SQL text.
func NewRepository(db *sql.DB, d dialect.Dialect, sqlLRUSize int) (Repository, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	if d == nil {
		d = dialect.Postgres{}
	}
	return &repository{
		tokenRepository:        &tokenRepository{db},
		keyRepository:          &keyRepository{db},
		keyUsageRepository:     &keyUsageRepository{db},
		caRepository:           &caRepository{db: db, dialect: d},
		certificateRepository:  &certificateRepository{db: db, dialect: d, sqlLRU: lru.New(sqlLRUSize)},
		crlRepository:          &crlRepository{db: db, dialect: d},
		publishRepository:      &publishRepository{db: db, dialect: d},
	}, nil
}
